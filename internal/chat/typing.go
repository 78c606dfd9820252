// Package chat tracks per-conversation presence: typing indicators with
// sender-side debounce and receiver-side expiry, and idempotent read
// receipts. Timers are owned here and cancelled on teardown so no callback
// ever fires against a torn-down conversation.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TypingExpiry is how long a received typing indicator stays visible
	// without a refresh (remote-side expiry).
	TypingExpiry = 3 * time.Second
	// DebounceQuiet is the keystroke quiet period after which the sender
	// side automatically emits a stopped signal.
	DebounceQuiet = 1 * time.Second
)

// TimerFactory schedules fn after d and returns a stop function. Production
// wraps time.AfterFunc; tests substitute a manual trigger.
type TimerFactory func(d time.Duration, fn func()) (stop func() bool)

func afterFunc(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

type typingEntry struct {
	expiresAt time.Time
	stop      func() bool
	gen       uint64
}

// Tracker is the receiver side of typing indicators: a typing notification
// inserts the user with expiry now+3s; a stopped notification or expiry
// removes it.
type Tracker struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]map[string]typingEntry
	now      func() time.Time
	newTimer TimerFactory
	logger   *zap.Logger
	closed   bool
	gen      uint64
}

// NewTracker creates a typing tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		convs:    make(map[uuid.UUID]map[string]typingEntry),
		now:      time.Now,
		newTimer: afterFunc,
		logger:   logger,
	}
}

// Notify records that userID is typing in the conversation. Refreshing an
// existing entry pushes the expiry forward and reschedules the removal timer.
func (t *Tracker) Notify(conversationID uuid.UUID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	users, ok := t.convs[conversationID]
	if !ok {
		users = make(map[string]typingEntry)
		t.convs[conversationID] = users
	}
	if prev, ok := users[userID]; ok && prev.stop != nil {
		prev.stop()
	}
	t.gen++
	gen := t.gen
	stop := t.newTimer(TypingExpiry, func() { t.expire(conversationID, userID, gen) })
	users[userID] = typingEntry{expiresAt: t.now().Add(TypingExpiry), stop: stop, gen: gen}
}

// expire removes the entry only if it still belongs to the timer that fired.
// Stop on a fired time.AfterFunc returns false, so a refresh racing the
// expiry callback would otherwise see its fresh entry removed by the stale
// timer; the generation token makes the stale callback a no-op.
func (t *Tracker) expire(conversationID uuid.UUID, userID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.convs[conversationID]
	if !ok {
		return
	}
	entry, ok := users[userID]
	if !ok || entry.gen != gen {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, conversationID)
	}
}

// Stopped removes the typing entry for userID, cancelling its expiry timer.
func (t *Tracker) Stopped(conversationID uuid.UUID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.convs[conversationID]
	if !ok {
		return
	}
	if entry, ok := users[userID]; ok {
		if entry.stop != nil {
			entry.stop()
		}
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(t.convs, conversationID)
	}
}

// TypingUsers returns the users currently typing in the conversation.
// Entries past their expiry are excluded even if the removal timer has not
// fired yet, so the 3s bound holds exactly.
func (t *Tracker) TypingUsers(conversationID uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.convs[conversationID]
	if len(users) == 0 {
		return nil
	}
	now := t.now()
	out := make([]string, 0, len(users))
	for id, entry := range users {
		if entry.expiresAt.After(now) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Close cancels all pending expiry timers. The tracker accepts no further
// notifications.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, users := range t.convs {
		for _, entry := range users {
			if entry.stop != nil {
				entry.stop()
			}
		}
	}
	t.convs = make(map[uuid.UUID]map[string]typingEntry)
}

type debounceKey struct {
	conversationID uuid.UUID
	userID         string
}

type debounceEntry struct {
	stop func() bool
	gen  uint64
}

// Debouncer is the sender side: the first keystroke emits a typing signal;
// each keystroke resets a quiet timer; when the quiet period elapses with no
// further keystrokes a stopped signal is emitted automatically.
type Debouncer struct {
	mu       sync.Mutex
	active   map[debounceKey]debounceEntry
	quiet    time.Duration
	send     func(conversationID uuid.UUID, userID string, stopped bool)
	newTimer TimerFactory
	closed   bool
	gen      uint64
}

// NewDebouncer creates a typing debouncer. send is invoked with stopped=false
// on the first keystroke of a burst and stopped=true after the quiet period.
func NewDebouncer(send func(conversationID uuid.UUID, userID string, stopped bool)) *Debouncer {
	return &Debouncer{
		active:   make(map[debounceKey]debounceEntry),
		quiet:    DebounceQuiet,
		send:     send,
		newTimer: afterFunc,
	}
}

// Keystroke registers typing activity for userID in the conversation.
func (d *Debouncer) Keystroke(conversationID uuid.UUID, userID string) {
	key := debounceKey{conversationID, userID}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	prev, wasActive := d.active[key]
	if wasActive && prev.stop != nil {
		prev.stop()
	}
	d.gen++
	gen := d.gen
	stop := d.newTimer(d.quiet, func() { d.expire(key, gen) })
	d.active[key] = debounceEntry{stop: stop, gen: gen}
	d.mu.Unlock()

	if !wasActive {
		d.send(conversationID, userID, false)
	}
}

// Cancel tears down the debounce state without emitting a stopped signal,
// e.g. when the conversation view closes.
func (d *Debouncer) Cancel(conversationID uuid.UUID, userID string) {
	key := debounceKey{conversationID, userID}
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.active[key]; ok {
		if entry.stop != nil {
			entry.stop()
		}
		delete(d.active, key)
	}
}

// Close cancels all pending quiet timers.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, entry := range d.active {
		if entry.stop != nil {
			entry.stop()
		}
	}
	d.active = make(map[debounceKey]debounceEntry)
}

// expire fires the stopped signal only when the entry still belongs to the
// timer that fired; a keystroke racing the callback has already installed a
// newer generation, and the stale callback must not end the burst.
func (d *Debouncer) expire(key debounceKey, gen uint64) {
	d.mu.Lock()
	entry, ok := d.active[key]
	if ok && entry.gen == gen {
		delete(d.active, key)
	} else {
		ok = false
	}
	closed := d.closed
	d.mu.Unlock()
	if ok && !closed {
		d.send(key.conversationID, key.userID, true)
	}
}
