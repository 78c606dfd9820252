package signaling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one validated envelope. payload is the typed result of
// Envelope.Decode for the envelope's kind.
type Handler func(ctx context.Context, env Envelope, payload interface{}) error

// Dispatcher routes envelopes to per-kind handlers: validate payload shape,
// drop duplicates, then invoke the handler. It replaces ad-hoc switch-based
// message handling with an explicit table so each kind is testable in
// isolation.
type Dispatcher struct {
	handlers map[Kind]Handler
	dedup    *Deduper
	logger   *zap.Logger
	onDrop   func(reason string)
}

// NewDispatcher creates a dispatcher with an empty table.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		dedup:    NewDeduper(),
		logger:   logger,
	}
}

// OnDrop registers a callback invoked when an envelope is dropped before its
// handler runs (duplicate, unknown kind, bad payload). Used for metrics.
func (d *Dispatcher) OnDrop(fn func(reason string)) { d.onDrop = fn }

// Register installs the handler for a kind. Registering a kind twice is a
// programming error and panics during wiring.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	if _, dup := d.handlers[kind]; dup {
		panic(fmt.Sprintf("signaling: handler already registered for %s", kind))
	}
	d.handlers[kind] = h
}

// Dispatch validates and routes one envelope. Duplicates and malformed
// envelopes are dropped with a log line, never surfaced as handler errors;
// handler errors propagate to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	payload, err := env.Decode()
	if err != nil {
		d.drop("bad_payload")
		d.logger.Warn("envelope rejected at boundary",
			zap.String("session_id", env.SessionID.String()),
			zap.String("kind", string(env.Kind)),
			zap.Error(err))
		return nil
	}
	if d.dedup.Seen(env.SessionID, env.Sequence) {
		d.drop("duplicate")
		d.logger.Debug("duplicate envelope dropped",
			zap.String("session_id", env.SessionID.String()),
			zap.Uint64("sequence", env.Sequence))
		return nil
	}
	h, ok := d.handlers[env.Kind]
	if !ok {
		d.drop("unhandled_kind")
		d.logger.Warn("no handler for envelope kind", zap.String("kind", string(env.Kind)))
		return nil
	}
	return h(ctx, env, payload)
}

// ForgetSession releases dedup state for a finished session.
func (d *Dispatcher) ForgetSession(sessionID uuid.UUID) {
	d.dedup.Forget(sessionID)
}

func (d *Dispatcher) drop(reason string) {
	if d.onDrop != nil {
		d.onDrop(reason)
	}
}
