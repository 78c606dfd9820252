// Package events publishes call and translation lifecycle events to Kafka
// for downstream analytics. When no brokers are configured the publisher
// runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	CallTopic      string
	TranslateTopic string
}

// Publisher writes lifecycle events to Kafka topics.
type Publisher struct {
	callWriter      *kafka.Writer
	translateWriter *kafka.Writer
	callTopic       string
	translateTopic  string
	enabled         bool
	logger          *zap.Logger
}

// New creates a Kafka publisher. With no brokers configured, events are
// logged and dropped.
func New(cfg Config, logger *zap.Logger) *Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, events run in log-only mode")
		return &Publisher{
			callTopic:      cfg.CallTopic,
			translateTopic: cfg.TranslateTopic,
			enabled:        false,
			logger:         logger,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("call_topic", cfg.CallTopic),
		zap.String("translate_topic", cfg.TranslateTopic))

	return &Publisher{
		callWriter:      newWriter(cfg.CallTopic),
		translateWriter: newWriter(cfg.TranslateTopic),
		callTopic:       cfg.CallTopic,
		translateTopic:  cfg.TranslateTopic,
		enabled:         true,
		logger:          logger,
	}
}

// PublishCallEvent publishes a call lifecycle event keyed by session ID.
func (p *Publisher) PublishCallEvent(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, p.callWriter, p.callTopic, sessionID, event)
}

// PublishTranslationEvent publishes a translation event keyed by session ID.
func (p *Publisher) PublishTranslationEvent(ctx context.Context, sessionID string, event any) error {
	return p.publish(ctx, p.translateWriter, p.translateTopic, sessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return err
	}

	if !p.enabled || writer == nil {
		p.logger.Debug("event (log-only)",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.ByteString("payload", payload))
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte("vaani-backend")},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to write to kafka",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.callWriter != nil {
		if e := p.callWriter.Close(); e != nil {
			err = e
		}
	}
	if p.translateWriter != nil {
		if e := p.translateWriter.Close(); e != nil {
			err = e
		}
	}
	return err
}
