package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "rt:"
	publishTimeout = 5 * time.Second
)

// RedisPubSub implements RedisPublisher and RedisSubscriber using Redis
// pub/sub, bridging room events across instances.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for room events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishRoomEvent publishes a pre-marshalled WSMessage to the room's channel.
func (r *RedisPubSub) PublishRoomEvent(room string, event string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+room, payload).Err()
}

// SubscribeRoom subscribes to a room's channel and calls handler for each
// message. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeRoom(room string, handler func(msg WSMessage)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channelPrefix+room)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg WSMessage
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					r.logger.Warn("dropping malformed room event", zap.String("room", room))
					continue
				}
				handler(msg)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
