package signaling

import (
	"sync"

	"github.com/google/uuid"
)

// defaultDedupWindow bounds remembered sequence numbers per session. The
// channel is at-least-once with short redelivery horizons, so a small window
// is enough; older entries are evicted lowest-first.
const defaultDedupWindow = 512

// Deduper drops envelopes already delivered for a session, keyed by
// (sessionID, sequenceNumber). Safe for concurrent use.
type Deduper struct {
	mu       sync.Mutex
	window   int
	sessions map[uuid.UUID]*seqWindow
}

type seqWindow struct {
	seen   map[uint64]struct{}
	order  []uint64
	lowest int
}

// NewDeduper creates a deduper with the default window size.
func NewDeduper() *Deduper {
	return &Deduper{window: defaultDedupWindow, sessions: make(map[uuid.UUID]*seqWindow)}
}

// Seen records the sequence number and reports whether it was already
// delivered for the session.
func (d *Deduper) Seen(sessionID uuid.UUID, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.sessions[sessionID]
	if !ok {
		w = &seqWindow{seen: make(map[uint64]struct{})}
		d.sessions[sessionID] = w
	}
	if _, dup := w.seen[seq]; dup {
		return true
	}
	w.seen[seq] = struct{}{}
	w.order = append(w.order, seq)
	if len(w.order)-w.lowest > d.window {
		delete(w.seen, w.order[w.lowest])
		w.lowest++
	}
	// Reclaim the consumed prefix so a long-lived session holds at most
	// ~2x window entries instead of every sequence number ever seen.
	if w.lowest >= d.window {
		w.order = append(w.order[:0], w.order[w.lowest:]...)
		w.lowest = 0
	}
	return false
}

// Forget drops all dedup state for a session. Called when the session
// reaches a terminal state.
func (d *Deduper) Forget(sessionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}
