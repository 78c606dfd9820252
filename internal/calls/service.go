package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/metrics"
	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/internal/signaling"
)

// ErrNotParticipant is returned when a user acts on a call they are not part of.
var ErrNotParticipant = errors.New("user is not a participant of this call")

// Notifier pushes events to connected clients. Implemented by realtime.Hub.
type Notifier interface {
	PublishToCall(callID uuid.UUID, event string, payload interface{})
	SendToUser(userID uuid.UUID, event string, payload interface{})
}

// TranslationSubmitter schedules speech segments for translation.
// Implemented by translation.Pipeline.
type TranslationSubmitter interface {
	Submit(ctx context.Context, segment models.TranscriptSegment, targetLang string, withVoice bool)
}

// EventSink publishes call lifecycle events for analytics.
// Implemented by events.Publisher.
type EventSink interface {
	PublishCallEvent(ctx context.Context, sessionID string, event any) error
}

// UserDirectory looks up marketplace users. Implemented by auth.Repository.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service coordinates call sessions: it owns the caller-facing operations
// (initiate, answer, end), routes signaling envelopes between the two
// participants, and feeds speech segments into the translation pipeline.
type Service struct {
	registry     *Registry
	users        UserDirectory
	hub          Notifier
	translations TranslationSubmitter
	events       EventSink
	dispatcher   *signaling.Dispatcher
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu       sync.Mutex
	lifetime map[uuid.UUID]sessionLifetime
}

type sessionLifetime struct {
	translateCtx context.Context
	startedAt    time.Time
}

// NewService creates the call coordinator and registers its signaling
// handlers on the dispatcher. translations and events may be nil.
func NewService(registry *Registry, users UserDirectory, hub Notifier, translations TranslationSubmitter, events EventSink, dispatcher *signaling.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Service {
	s := &Service{
		registry:     registry,
		users:        users,
		hub:          hub,
		translations: translations,
		events:       events,
		dispatcher:   dispatcher,
		metrics:      m,
		logger:       logger,
		lifetime:     make(map[uuid.UUID]sessionLifetime),
	}
	registry.OnStateChange(s.onStateChange)
	if dispatcher != nil {
		dispatcher.Register(signaling.KindOffer, s.handleOffer)
		dispatcher.Register(signaling.KindAnswer, s.handleAnswer)
		dispatcher.Register(signaling.KindICECandidate, s.handleICECandidate)
		dispatcher.Register(signaling.KindTranslationRequest, s.handleTranslationRequest)
		dispatcher.Register(signaling.KindTranslationResult, s.handleTranslationResult)
	}
	return s
}

// Initiate starts a new call from caller to callee. The callee is notified
// with a call_invitation on all their connections.
func (s *Service) Initiate(ctx context.Context, callerID, calleeID uuid.UUID, kind models.CallKind, translationEnabled bool) (models.Session, error) {
	if callerID == calleeID {
		return models.Session{}, fmt.Errorf("caller and callee must differ")
	}
	caller, err := s.participant(ctx, callerID)
	if err != nil {
		return models.Session{}, fmt.Errorf("lookup caller: %w", err)
	}
	callee, err := s.participant(ctx, calleeID)
	if err != nil {
		return models.Session{}, fmt.Errorf("lookup callee: %w", err)
	}

	session, err := s.registry.Create(caller, callee, kind, translationEnabled, EventInitiate)
	if err != nil {
		return models.Session{}, err
	}

	tctx, cancel := context.WithCancel(context.Background())
	if err := s.registry.AttachResources(session.ID, Resources{
		CancelTranslations: cancel,
	}); err != nil {
		cancel()
		return models.Session{}, err
	}
	s.mu.Lock()
	s.lifetime[session.ID] = sessionLifetime{translateCtx: tctx, startedAt: session.CreatedAt}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCallStarted(string(kind))
	}
	s.hub.SendToUser(calleeID, "call_invitation", map[string]interface{}{
		"call_id":             session.ID,
		"caller":              caller,
		"call_kind":           kind,
		"translation_enabled": translationEnabled,
	})
	s.publishLifecycleEvent(session.ID, "call_initiated", map[string]interface{}{
		"caller_id": callerID, "callee_id": calleeID, "call_kind": kind,
	})
	return session, nil
}

// Answer records the callee's response. Accepting moves the session to
// connecting; rejecting fails it with reason "rejected".
func (s *Service) Answer(ctx context.Context, callID, userID uuid.UUID, accept bool) (models.Session, error) {
	session, err := s.registry.Get(callID)
	if err != nil {
		return models.Session{}, err
	}
	if session.Callee.ID != userID.String() {
		return models.Session{}, ErrNotParticipant
	}

	event := EventAnswerAccepted
	if !accept {
		event = EventAnswerRejected
	}
	session, err = s.registry.Transition(callID, event, "")
	if err != nil {
		return session, err
	}
	callerID, _ := uuid.Parse(session.Caller.ID)
	s.hub.SendToUser(callerID, "call_answered", map[string]interface{}{
		"call_id":  callID,
		"accepted": accept,
	})
	return session, nil
}

// End terminates the session: a plain hangup, or a transport failure when
// reason is "transport_failure".
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID, reason string) (models.Session, error) {
	session, err := s.registry.Get(callID)
	if err != nil {
		return models.Session{}, err
	}
	if session.Caller.ID != userID.String() && session.Callee.ID != userID.String() {
		return models.Session{}, ErrNotParticipant
	}
	event := EventHangup
	if reason == "transport_failure" {
		event = EventTransportFailure
	}
	return s.registry.Transition(callID, event, reason)
}

// Get returns a snapshot of an active session.
func (s *Service) Get(callID uuid.UUID) (models.Session, error) {
	return s.registry.Get(callID)
}

func (s *Service) participant(ctx context.Context, id uuid.UUID) (models.Participant, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return models.Participant{}, err
	}
	if user == nil {
		return models.Participant{}, fmt.Errorf("user %s not found", id)
	}
	return models.Participant{
		ID:                user.ID.String(),
		DisplayName:       user.FullName,
		PreferredLanguage: user.PreferredLanguage,
	}, nil
}

// onStateChange reacts to registry transitions: metrics, peer notification
// and cleanup once the session is terminal.
func (s *Service) onStateChange(change StateChange) {
	if s.metrics != nil {
		s.metrics.RecordTransition(change.From.String(), change.To.String())
	}
	if !change.To.IsTerminal() {
		return
	}

	s.mu.Lock()
	lt, ok := s.lifetime[change.SessionID]
	delete(s.lifetime, change.SessionID)
	s.mu.Unlock()

	var duration float64
	if ok {
		duration = change.At.Sub(lt.startedAt).Seconds()
	}
	if s.metrics != nil {
		s.metrics.RecordCallEnded(change.To.String(), change.Reason, duration)
	}
	if s.dispatcher != nil {
		s.dispatcher.ForgetSession(change.SessionID)
	}
	s.hub.PublishToCall(change.SessionID, "call_ended", map[string]interface{}{
		"call_id": change.SessionID,
		"state":   change.To.String(),
		"reason":  change.Reason,
	})
	s.publishLifecycleEvent(change.SessionID, "call_ended", map[string]interface{}{
		"state":            change.To.String(),
		"reason":           change.Reason,
		"duration_seconds": duration,
	})
}

func (s *Service) publishLifecycleEvent(sessionID uuid.UUID, eventType string, fields map[string]interface{}) {
	if s.events == nil {
		return
	}
	fields["event"] = eventType
	fields["call_id"] = sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.PublishCallEvent(ctx, sessionID.String(), fields); err != nil {
		s.logger.Warn("failed to publish call event",
			zap.String("call_id", sessionID.String()),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

// handleOffer applies an SDP offer to the session's negotiation and relays
// it to the other participant. A glare loser's offer is dropped silently.
func (s *Service) handleOffer(ctx context.Context, env signaling.Envelope, payload interface{}) error {
	neg, session, err := s.negotiation(env.SessionID)
	if err != nil {
		return s.discardLate(env, err)
	}
	p := payload.(signaling.DescriptionPayload)
	accepted, err := neg.ApplyOffer(env.SenderID, p.SessionDescription())
	if err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	if !accepted {
		if s.metrics != nil {
			s.metrics.RecordSignalDropped("glare_loser")
		}
		s.logger.Debug("offer lost glare tie-break",
			zap.String("call_id", env.SessionID.String()),
			zap.String("sender_id", env.SenderID))
		return nil
	}
	s.relayToPeer(session, env)
	return nil
}

// handleAnswer applies an SDP answer; an answer arriving before any offer is
// discarded. A successfully applied answer completes negotiation.
func (s *Service) handleAnswer(ctx context.Context, env signaling.Envelope, payload interface{}) error {
	neg, session, err := s.negotiation(env.SessionID)
	if err != nil {
		return s.discardLate(env, err)
	}
	p := payload.(signaling.DescriptionPayload)
	if err := neg.ApplyAnswer(env.SenderID, p.SessionDescription()); err != nil {
		if errors.Is(err, ErrAnswerBeforeOffer) {
			if s.metrics != nil {
				s.metrics.RecordSignalDropped("answer_before_offer")
			}
			s.logger.Debug("discarding answer before offer",
				zap.String("call_id", env.SessionID.String()))
			return nil
		}
		return fmt.Errorf("apply answer: %w", err)
	}
	s.relayToPeer(session, env)

	if neg.Ready() {
		if _, err := s.registry.Transition(env.SessionID, EventNegotiationComplete, ""); err != nil {
			s.logger.Warn("negotiation finished but session not connecting",
				zap.String("call_id", env.SessionID.String()),
				zap.Error(err))
		}
	}
	return nil
}

// handleICECandidate records a candidate and relays it. Duplicates (resends
// on the at-least-once channel) are dropped.
func (s *Service) handleICECandidate(ctx context.Context, env signaling.Envelope, payload interface{}) error {
	neg, session, err := s.negotiation(env.SessionID)
	if err != nil {
		return s.discardLate(env, err)
	}
	cand := payload.(webrtc.ICECandidateInit)
	if !neg.AddCandidate(cand) {
		if s.metrics != nil {
			s.metrics.RecordSignalDropped("duplicate_candidate")
		}
		return nil
	}
	s.relayToPeer(session, env)
	return nil
}

// handleTranslationRequest feeds a final speech segment into the pipeline.
func (s *Service) handleTranslationRequest(ctx context.Context, env signaling.Envelope, payload interface{}) error {
	p := payload.(signaling.TranslationRequestPayload)
	if err := s.RequestTranslation(env.SessionID, env.SenderID, p, env.SentAt); err != nil {
		return s.discardLate(env, err)
	}
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed(string(env.Kind))
	}
	return nil
}

// RequestTranslation schedules a speech segment for translation. The target
// language defaults to the other participant's preferred language.
func (s *Service) RequestTranslation(callID uuid.UUID, senderID string, p signaling.TranslationRequestPayload, recognizedAt time.Time) error {
	session, err := s.registry.Get(callID)
	if err != nil {
		return err
	}
	if s.translations == nil {
		return nil
	}

	target := p.TargetLanguage
	if target == "" {
		if senderID == session.Caller.ID {
			target = session.Callee.PreferredLanguage
		} else {
			target = session.Caller.PreferredLanguage
		}
	}

	s.mu.Lock()
	lt, ok := s.lifetime[callID]
	s.mu.Unlock()
	tctx := context.Background()
	if ok && lt.translateCtx != nil {
		tctx = lt.translateCtx
	}

	s.translations.Submit(tctx, models.TranscriptSegment{
		SessionID:      callID,
		SourceLanguage: p.SourceLanguage,
		Text:           p.Text,
		IsFinal:        p.IsFinal,
		RecognizedAt:   recognizedAt,
	}, target, true)
	return nil
}

// handleTranslationResult relays a client-produced translation to the call.
func (s *Service) handleTranslationResult(ctx context.Context, env signaling.Envelope, payload interface{}) error {
	if _, err := s.registry.Get(env.SessionID); err != nil {
		return s.discardLate(env, err)
	}
	p := payload.(signaling.TranslationResultPayload)
	s.hub.PublishToCall(env.SessionID, "voice_translation", p)
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed(string(env.Kind))
	}
	return nil
}

func (s *Service) negotiation(id uuid.UUID) (*Negotiation, models.Session, error) {
	session, err := s.registry.Get(id)
	if err != nil {
		return nil, models.Session{}, err
	}
	neg, err := s.registry.Negotiation(id)
	if err != nil {
		return nil, models.Session{}, err
	}
	return neg, session, nil
}

// discardLate logs and swallows signals for sessions that already ended.
// The session is gone from the registry, so there is nothing to fail.
func (s *Service) discardLate(env signaling.Envelope, err error) error {
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionTerminal) {
		if s.metrics != nil {
			s.metrics.RecordSignalDropped("session_ended")
		}
		s.logger.Debug("discarding signal for ended session",
			zap.String("call_id", env.SessionID.String()),
			zap.String("kind", string(env.Kind)))
		return nil
	}
	return err
}

// relayToPeer forwards a signaling envelope to the participant that did not
// send it.
func (s *Service) relayToPeer(session models.Session, env signaling.Envelope) {
	peerID := session.Caller.ID
	if env.SenderID == session.Caller.ID {
		peerID = session.Callee.ID
	}
	peer, err := uuid.Parse(peerID)
	if err != nil {
		return
	}
	s.hub.SendToUser(peer, "webrtc_signal", env)
	if s.metrics != nil {
		s.metrics.RecordSignalRelayed(string(env.Kind))
	}
}
