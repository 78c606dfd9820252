package calls

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/internal/signaling"
)

type sentEvent struct {
	target  string // "user:<id>" or "call:<id>"
	event   string
	payload interface{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *fakeNotifier) PublishToCall(callID uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{target: "call:" + callID.String(), event: event, payload: payload})
}

func (f *fakeNotifier) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{target: "user:" + userID.String(), event: event, payload: payload})
}

func (f *fakeNotifier) events(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.sent {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type submitted struct {
	segment    models.TranscriptSegment
	targetLang string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []submitted
}

func (f *fakeSubmitter) Submit(ctx context.Context, segment models.TranscriptSegment, targetLang string, withVoice bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, submitted{segment: segment, targetLang: targetLang})
}

type fakeDirectory struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeDirectory) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return f.users[id], nil
}

func newTestService(t *testing.T) (*Service, *signaling.Dispatcher, *fakeNotifier, *fakeSubmitter, uuid.UUID, uuid.UUID) {
	t.Helper()
	callerID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	calleeID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	dir := &fakeDirectory{users: map[uuid.UUID]*models.User{
		callerID: {ID: callerID, FullName: "Asha", PreferredLanguage: "hi"},
		calleeID: {ID: calleeID, FullName: "Tom", PreferredLanguage: "en"},
	}}
	notifier := &fakeNotifier{}
	submitter := &fakeSubmitter{}
	registry := NewRegistry(zap.NewNop(), nil)
	dispatcher := signaling.NewDispatcher(zap.NewNop())
	svc := NewService(registry, dir, notifier, submitter, nil, dispatcher, nil, zap.NewNop())
	return svc, dispatcher, notifier, submitter, callerID, calleeID
}

func mustInitiate(t *testing.T, svc *Service, caller, callee uuid.UUID) models.Session {
	t.Helper()
	session, err := svc.Initiate(context.Background(), caller, callee, models.CallKindVoice, true)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return session
}

func envelope(t *testing.T, callID uuid.UUID, kind signaling.Kind, sender string, seq uint64, payload interface{}) signaling.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return signaling.Envelope{
		SessionID: callID,
		Kind:      kind,
		Payload:   raw,
		SenderID:  sender,
		Sequence:  seq,
		SentAt:    time.Now(),
	}
}

func TestInitiateNotifiesCallee(t *testing.T) {
	svc, _, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)

	if session.State != "calling" {
		t.Errorf("state = %q, want calling", session.State)
	}
	invites := notifier.events("call_invitation")
	if len(invites) != 1 {
		t.Fatalf("expected 1 call_invitation, got %d", len(invites))
	}
	if invites[0].target != "user:"+callee.String() {
		t.Errorf("invitation sent to %s, want callee", invites[0].target)
	}
}

func TestAnswerAcceptMovesToConnecting(t *testing.T) {
	svc, _, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)

	got, err := svc.Answer(context.Background(), session.ID, callee, true)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got.State != "connecting" {
		t.Errorf("state = %q, want connecting", got.State)
	}
	answered := notifier.events("call_answered")
	if len(answered) != 1 || answered[0].target != "user:"+caller.String() {
		t.Errorf("call_answered not delivered to caller: %+v", answered)
	}
}

func TestAnswerByNonCalleeRejected(t *testing.T) {
	svc, _, _, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)

	if _, err := svc.Answer(context.Background(), session.ID, caller, true); err != ErrNotParticipant {
		t.Errorf("caller answering own call: err = %v, want ErrNotParticipant", err)
	}
}

func TestAnswerRejectFailsSession(t *testing.T) {
	svc, _, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)

	got, err := svc.Answer(context.Background(), session.ID, callee, false)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got.State != "failed" {
		t.Errorf("state = %q, want failed", got.State)
	}
	if _, err := svc.Get(session.ID); err != ErrSessionNotFound {
		t.Errorf("rejected session still in registry: %v", err)
	}
	if len(notifier.events("call_ended")) != 1 {
		t.Errorf("expected call_ended broadcast for rejected call")
	}
}

func TestOfferRelayedToPeer(t *testing.T) {
	svc, dispatcher, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	env := envelope(t, session.ID, signaling.KindOffer, caller.String(), 1,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 caller"})
	if err := dispatcher.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	relayed := notifier.events("webrtc_signal")
	if len(relayed) != 1 {
		t.Fatalf("expected 1 relayed signal, got %d", len(relayed))
	}
	if relayed[0].target != "user:"+callee.String() {
		t.Errorf("offer relayed to %s, want callee", relayed[0].target)
	}
}

func TestGlareLoserOfferNotRelayed(t *testing.T) {
	svc, dispatcher, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// Callee offers first; caller has the smaller ID so its offer wins the
	// tie-break and the callee's earlier offer is superseded.
	calleeOffer := envelope(t, session.ID, signaling.KindOffer, callee.String(), 1,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 callee"})
	if err := dispatcher.Dispatch(context.Background(), calleeOffer); err != nil {
		t.Fatalf("Dispatch callee offer: %v", err)
	}
	callerOffer := envelope(t, session.ID, signaling.KindOffer, caller.String(), 2,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 caller"})
	if err := dispatcher.Dispatch(context.Background(), callerOffer); err != nil {
		t.Fatalf("Dispatch caller offer: %v", err)
	}

	neg, err := svc.registry.Negotiation(session.ID)
	if err != nil {
		t.Fatalf("Negotiation: %v", err)
	}
	if neg.OffererID() != caller.String() {
		t.Errorf("offerer = %s, want caller (smaller id)", neg.OffererID())
	}
	// Both envelopes relay until applied; the winning offer is the one that
	// stands. The losing re-offer after the tie-break must not relay.
	lateCalleeOffer := envelope(t, session.ID, signaling.KindOffer, callee.String(), 3,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 callee again"})
	before := len(notifier.events("webrtc_signal"))
	if err := dispatcher.Dispatch(context.Background(), lateCalleeOffer); err != nil {
		t.Fatalf("Dispatch late offer: %v", err)
	}
	if got := len(notifier.events("webrtc_signal")); got != before {
		t.Errorf("glare loser offer was relayed: %d -> %d", before, got)
	}
}

func TestAnswerSignalCompletesNegotiation(t *testing.T) {
	svc, dispatcher, _, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	offer := envelope(t, session.ID, signaling.KindOffer, caller.String(), 1,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 caller"})
	if err := dispatcher.Dispatch(context.Background(), offer); err != nil {
		t.Fatalf("Dispatch offer: %v", err)
	}
	answer := envelope(t, session.ID, signaling.KindAnswer, callee.String(), 2,
		signaling.DescriptionPayload{Type: "answer", SDP: "v=0 callee"})
	if err := dispatcher.Dispatch(context.Background(), answer); err != nil {
		t.Fatalf("Dispatch answer: %v", err)
	}

	got, err := svc.Get(session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != "connected" {
		t.Errorf("state = %q, want connected after negotiation", got.State)
	}
}

func TestAnswerBeforeOfferDiscardedSilently(t *testing.T) {
	svc, dispatcher, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	answer := envelope(t, session.ID, signaling.KindAnswer, callee.String(), 1,
		signaling.DescriptionPayload{Type: "answer", SDP: "v=0 early"})
	if err := dispatcher.Dispatch(context.Background(), answer); err != nil {
		t.Fatalf("early answer should be discarded, got error: %v", err)
	}
	if len(notifier.events("webrtc_signal")) != 0 {
		t.Errorf("early answer was relayed")
	}
	got, _ := svc.Get(session.ID)
	if got.State != "connecting" {
		t.Errorf("state = %q, want connecting unchanged", got.State)
	}
}

func TestSignalForEndedCallDiscarded(t *testing.T) {
	svc, dispatcher, _, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.End(context.Background(), session.ID, caller, ""); err != nil {
		t.Fatalf("End: %v", err)
	}

	late := envelope(t, session.ID, signaling.KindOffer, caller.String(), 9,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 late"})
	if err := dispatcher.Dispatch(context.Background(), late); err != nil {
		t.Errorf("late signal should be discarded silently, got %v", err)
	}
}

func TestTranslationTargetDefaultsToPeerLanguage(t *testing.T) {
	svc, dispatcher, _, submitter, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// Caller speaks Hindi; callee prefers English.
	req := envelope(t, session.ID, signaling.KindTranslationRequest, caller.String(), 1,
		signaling.TranslationRequestPayload{SourceLanguage: "hi", Text: "नमस्ते", IsFinal: true})
	if err := dispatcher.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(submitter.jobs) != 1 {
		t.Fatalf("expected 1 submitted segment, got %d", len(submitter.jobs))
	}
	if submitter.jobs[0].targetLang != "en" {
		t.Errorf("target = %q, want en (callee preference)", submitter.jobs[0].targetLang)
	}
	if submitter.jobs[0].segment.Text != "नमस्ते" {
		t.Errorf("segment text = %q", submitter.jobs[0].segment.Text)
	}
}

func TestDuplicateSignalDropped(t *testing.T) {
	svc, dispatcher, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)
	if _, err := svc.Answer(context.Background(), session.ID, callee, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	offer := envelope(t, session.ID, signaling.KindOffer, caller.String(), 7,
		signaling.DescriptionPayload{Type: "offer", SDP: "v=0 caller"})
	for i := 0; i < 3; i++ {
		if err := dispatcher.Dispatch(context.Background(), offer); err != nil {
			t.Fatalf("Dispatch attempt %d: %v", i, err)
		}
	}
	if got := len(notifier.events("webrtc_signal")); got != 1 {
		t.Errorf("relayed %d times, want 1 (resends deduped)", got)
	}
}

func TestHangupBroadcastsCallEnded(t *testing.T) {
	svc, _, notifier, _, caller, callee := newTestService(t)
	session := mustInitiate(t, svc, caller, callee)

	got, err := svc.End(context.Background(), session.ID, callee, "")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if got.State != "ended" {
		t.Errorf("state = %q, want ended", got.State)
	}
	ended := notifier.events("call_ended")
	if len(ended) != 1 {
		t.Fatalf("expected 1 call_ended, got %d", len(ended))
	}
	if ended[0].target != "call:"+session.ID.String() {
		t.Errorf("call_ended target = %s", ended[0].target)
	}
}
