package calls

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/models"
)

// StateChange is emitted on every successful transition. Consumed by the
// signaling layer (to notify peers) and by the translation pipeline (which
// runs only while the session is connected).
type StateChange struct {
	SessionID uuid.UUID
	From      State
	To        State
	Event     Event
	Reason    string
	At        time.Time
}

// Resources are the handles a session exclusively owns. All of them are
// released synchronously when the session reaches a terminal state.
type Resources struct {
	Peer               io.Closer          // peer connection handle
	Media              *LocalMedia        // local stream tracks
	Unsubscribe        func()             // signaling subscription cancel
	CancelTranslations context.CancelFunc // aborts in-flight translation requests
}

type activeSession struct {
	session     models.Session
	state       State
	resources   Resources
	negotiation *Negotiation
}

// Archiver persists a session that reached a terminal state.
type Archiver interface {
	Archive(ctx context.Context, rec *models.CallRecord) error
}

// Registry tracks active call sessions keyed by session ID. It is the only
// owner of session state; every mutation goes through Transition.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*activeSession
	onChange []func(StateChange)
	archiver Archiver
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a session registry. archiver may be nil (sessions are
// then dropped on terminal state without persistence).
func NewRegistry(logger *zap.Logger, archiver Archiver) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*activeSession),
		archiver: archiver,
		logger:   logger,
		now:      time.Now,
	}
}

// OnStateChange registers a listener invoked after each successful
// transition. Must be called before the registry is used.
func (r *Registry) OnStateChange(fn func(StateChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Create registers a new session and applies the creation event:
// EventInitiate on the caller side (idle -> calling) or
// EventInvitationReceived on the callee side (idle -> ringing).
func (r *Registry) Create(caller, callee models.Participant, kind models.CallKind, translationEnabled bool, creation Event) (models.Session, error) {
	if creation != EventInitiate && creation != EventInvitationReceived {
		return models.Session{}, ErrInvalidTransition
	}
	id := uuid.New()
	now := r.now()
	as := &activeSession{
		session: models.Session{
			ID:                 id,
			Caller:             caller,
			Callee:             callee,
			Kind:               kind,
			TranslationEnabled: translationEnabled,
			State:              StateIdle.String(),
			CreatedAt:          now,
		},
		state:       StateIdle,
		negotiation: NewNegotiation(caller.ID, callee.ID),
	}

	r.mu.Lock()
	r.sessions[id] = as
	r.mu.Unlock()

	if _, err := r.Transition(id, creation, ""); err != nil {
		return models.Session{}, err
	}
	return r.mustGet(id), nil
}

// Get returns a snapshot of the session, or ErrSessionNotFound.
func (r *Registry) Get(id uuid.UUID) (models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return as.session, nil
}

// State returns the typed state of the session.
func (r *Registry) State(id uuid.UUID) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.sessions[id]
	if !ok {
		return StateIdle, ErrSessionNotFound
	}
	return as.state, nil
}

// Negotiation returns the negotiation tracker owned by the session.
func (r *Registry) Negotiation(id uuid.UUID) (*Negotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return as.negotiation, nil
}

// TranslationAllowed reports whether the translation pipeline may run for
// this session: translation enabled and state connected.
func (r *Registry) TranslationAllowed(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.sessions[id]
	return ok && as.session.TranslationEnabled && as.state == StateConnected
}

// AttachResources hands the session ownership of its peer connection, media
// and subscription handles. A session never reuses a prior session's
// resources; attaching twice replaces (and releases) the earlier set.
func (r *Registry) AttachResources(id uuid.UUID, res Resources) error {
	r.mu.Lock()
	as, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	old := as.resources
	as.resources = res
	r.mu.Unlock()

	releaseResources(old)
	return nil
}

// Media returns the session's local media owner, or nil.
func (r *Registry) Media(id uuid.UUID) *LocalMedia {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if as, ok := r.sessions[id]; ok {
		return as.resources.Media
	}
	return nil
}

// Transition applies event to the session's state machine. On success it
// emits a StateChange; on a terminal result it synchronously releases the
// session's resources and archives the record. Signals for sessions already
// terminal (or unknown, i.e. already archived) are logged and discarded via
// ErrSessionTerminal / ErrSessionNotFound; invalid edges return
// ErrInvalidTransition with state unchanged.
func (r *Registry) Transition(id uuid.UUID, event Event, reason string) (models.Session, error) {
	r.mu.Lock()
	as, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, ErrSessionNotFound
	}

	from := as.state
	next, err := Next(from, event)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("transition rejected",
			zap.String("session_id", id.String()),
			zap.String("state", from.String()),
			zap.String("event", event.String()),
			zap.Error(err))
		return as.session, err
	}

	now := r.now()
	as.state = next
	as.session.State = next.String()
	if reason == "" {
		reason = FailReason(event)
	}

	var res Resources
	var record *models.CallRecord
	if next.IsTerminal() {
		ended := now
		as.session.EndedAt = &ended
		res = as.resources
		as.resources = Resources{}
		record = buildRecord(&as.session, next, reason)
		delete(r.sessions, id)
	}
	snapshot := as.session
	listeners := r.onChange
	r.mu.Unlock()

	if next.IsTerminal() {
		// Release before anything else observes the terminal state: a new
		// call must never find these handles still live.
		releaseResources(res)
		if r.archiver != nil && record != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.archiver.Archive(ctx, record); err != nil {
				r.logger.Error("archive call record", zap.String("session_id", id.String()), zap.Error(err))
			}
			cancel()
		}
	}

	change := StateChange{SessionID: id, From: from, To: next, Event: event, Reason: reason, At: now}
	for _, fn := range listeners {
		fn(change)
	}
	r.logger.Debug("session transition",
		zap.String("session_id", id.String()),
		zap.String("from", from.String()),
		zap.String("to", next.String()),
		zap.String("event", event.String()))
	return snapshot, nil
}

// ActiveCount returns the number of non-terminal sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) mustGet(id uuid.UUID) models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if as, ok := r.sessions[id]; ok {
		return as.session
	}
	return models.Session{ID: id}
}

func releaseResources(res Resources) {
	if res.CancelTranslations != nil {
		res.CancelTranslations()
	}
	if res.Unsubscribe != nil {
		res.Unsubscribe()
	}
	if res.Media != nil {
		res.Media.Release()
	}
	if res.Peer != nil {
		_ = res.Peer.Close()
	}
}

func buildRecord(s *models.Session, final State, reason string) *models.CallRecord {
	rec := &models.CallRecord{
		ID:                 s.ID,
		CallerID:           s.Caller.ID,
		CalleeID:           s.Callee.ID,
		Kind:               s.Kind,
		TranslationEnabled: s.TranslationEnabled,
		FinalState:         final.String(),
		FailReason:         reason,
		StartedAt:          s.CreatedAt,
		EndedAt:            s.EndedAt,
	}
	if s.EndedAt != nil {
		rec.DurationSeconds = int64(s.EndedAt.Sub(s.CreatedAt).Seconds())
	}
	return rec
}
