package calls

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/vaani-market/backend/internal/models"
)

type fakeArchiver struct {
	mu      sync.Mutex
	records []*models.CallRecord
}

func (a *fakeArchiver) Archive(_ context.Context, rec *models.CallRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

type fakePeer struct{ closed bool }

func (p *fakePeer) Close() error { p.closed = true; return nil }

type fakeTrack struct{ id, kind string }

func (t fakeTrack) ID() string   { return t.id }
func (t fakeTrack) Kind() string { return t.kind }

func participants() (models.Participant, models.Participant) {
	caller := models.Participant{ID: "a1", DisplayName: "Asha", PreferredLanguage: "hi"}
	callee := models.Participant{ID: "b2", DisplayName: "Bala", PreferredLanguage: "ta"}
	return caller, callee
}

func TestRegistry_CreateCallerSide(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()

	s, err := r.Create(caller, callee, models.CallKindVoice, true, EventInitiate)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.State != "calling" {
		t.Errorf("state = %q, want calling", s.State)
	}
	if s.Kind != models.CallKindVoice {
		t.Errorf("kind = %q, want voice", s.Kind)
	}
}

func TestRegistry_CreateCalleeSide(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()

	s, err := r.Create(caller, callee, models.CallKindVideo, false, EventInvitationReceived)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.State != "ringing" {
		t.Errorf("state = %q, want ringing", s.State)
	}
}

func TestRegistry_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, false, EventInitiate)

	_, err := r.Transition(s.ID, EventAccept, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	state, _ := r.State(s.ID)
	if state != StateCalling {
		t.Errorf("state = %s, want calling after rejected transition", state)
	}
}

func TestRegistry_VoiceCallHappyPathReleasesMedia(t *testing.T) {
	// Caller "a1" calls "b2" voice; callee accepts; negotiation completes;
	// either side hangs up; media and peer handles must be released.
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, false, EventInitiate)

	peer := &fakePeer{}
	media := NewLocalMedia(fakeTrack{id: "mic", kind: "audio"}, nil)
	unsubscribed := false
	cancelled := false
	if err := r.AttachResources(s.ID, Resources{
		Peer:               peer,
		Media:              media,
		Unsubscribe:        func() { unsubscribed = true },
		CancelTranslations: func() { cancelled = true },
	}); err != nil {
		t.Fatalf("AttachResources: %v", err)
	}

	if _, err := r.Transition(s.ID, EventAnswerAccepted, ""); err != nil {
		t.Fatalf("answer_accepted: %v", err)
	}
	if _, err := r.Transition(s.ID, EventNegotiationComplete, ""); err != nil {
		t.Fatalf("negotiation_complete: %v", err)
	}
	state, _ := r.State(s.ID)
	if state != StateConnected {
		t.Fatalf("state = %s, want connected", state)
	}

	snap, err := r.Transition(s.ID, EventHangup, "")
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if snap.State != "ended" {
		t.Errorf("state = %q, want ended", snap.State)
	}
	if snap.EndedAt == nil {
		t.Error("EndedAt not set on terminal state")
	}
	if !peer.closed {
		t.Error("peer connection not closed on hangup")
	}
	if !media.Released() || media.AudioTrack() != nil {
		t.Error("local media not released on hangup")
	}
	if !unsubscribed {
		t.Error("signaling subscription not cancelled on hangup")
	}
	if !cancelled {
		t.Error("pending translations not cancelled on hangup")
	}
}

func TestRegistry_TerminalSessionDiscardsFurtherSignals(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, false, EventInitiate)
	if _, err := r.Transition(s.ID, EventHangup, ""); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	// Terminal sessions are archived out of the registry; late signals get
	// ErrSessionNotFound and are logged-and-ignored by callers.
	_, err := r.Transition(s.ID, EventAnswerAccepted, "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for late signal, got %v", err)
	}
}

func TestRegistry_RejectedAnswerFailsWithReason(t *testing.T) {
	archiver := &fakeArchiver{}
	r := NewRegistry(zap.NewNop(), archiver)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVideo, false, EventInitiate)

	snap, err := r.Transition(s.ID, EventAnswerRejected, "")
	if err != nil {
		t.Fatalf("answer_rejected: %v", err)
	}
	if snap.State != "failed" {
		t.Errorf("state = %q, want failed", snap.State)
	}
	if len(archiver.records) != 1 {
		t.Fatalf("archived records = %d, want 1", len(archiver.records))
	}
	rec := archiver.records[0]
	if rec.FinalState != "failed" || rec.FailReason != "rejected" {
		t.Errorf("record = %s/%s, want failed/rejected", rec.FinalState, rec.FailReason)
	}
}

func TestRegistry_StateChangeEventsEmitted(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	var changes []StateChange
	r.OnStateChange(func(c StateChange) { changes = append(changes, c) })

	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, true, EventInitiate)
	r.Transition(s.ID, EventAnswerAccepted, "")
	r.Transition(s.ID, EventNegotiationComplete, "")
	r.Transition(s.ID, EventHangup, "")

	want := []State{StateCalling, StateConnecting, StateConnected, StateEnded}
	if len(changes) != len(want) {
		t.Fatalf("changes = %d, want %d", len(changes), len(want))
	}
	for i, c := range changes {
		if c.To != want[i] {
			t.Errorf("change %d: to = %s, want %s", i, c.To, want[i])
		}
	}
}

func TestRegistry_TranslationGatedOnConnected(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, true, EventInitiate)

	if r.TranslationAllowed(s.ID) {
		t.Error("translation allowed while calling")
	}
	r.Transition(s.ID, EventAnswerAccepted, "")
	if r.TranslationAllowed(s.ID) {
		t.Error("translation allowed while connecting")
	}
	r.Transition(s.ID, EventNegotiationComplete, "")
	if !r.TranslationAllowed(s.ID) {
		t.Error("translation not allowed while connected")
	}

	// Sessions created without translation never allow it.
	s2, _ := r.Create(caller, callee, models.CallKindVoice, false, EventInitiate)
	r.Transition(s2.ID, EventAnswerAccepted, "")
	r.Transition(s2.ID, EventNegotiationComplete, "")
	if r.TranslationAllowed(s2.ID) {
		t.Error("translation allowed on session with translation disabled")
	}
}

func TestRegistry_AttachReplacesAndReleasesOldResources(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	caller, callee := participants()
	s, _ := r.Create(caller, callee, models.CallKindVoice, false, EventInitiate)

	old := &fakePeer{}
	r.AttachResources(s.ID, Resources{Peer: old})
	r.AttachResources(s.ID, Resources{Peer: &fakePeer{}})
	if !old.closed {
		t.Error("replaced peer handle was not closed")
	}
}

func TestLocalMedia_ScreenShareSubstitutesAndRestores(t *testing.T) {
	camera := fakeTrack{id: "cam", kind: "video"}
	share := fakeTrack{id: "screen", kind: "video"}
	m := NewLocalMedia(fakeTrack{id: "mic", kind: "audio"}, camera)

	if m.VideoTrack().ID() != "cam" {
		t.Fatalf("video = %s, want cam", m.VideoTrack().ID())
	}
	m.StartScreenShare(share)
	if m.VideoTrack().ID() != "screen" {
		t.Errorf("video = %s, want screen while sharing", m.VideoTrack().ID())
	}
	m.StopScreenShare()
	if m.VideoTrack().ID() != "cam" {
		t.Errorf("video = %s, want cam after share end", m.VideoTrack().ID())
	}

	m.StartScreenShare(share)
	m.Release()
	if m.VideoTrack() != nil || m.AudioTrack() != nil {
		t.Error("tracks still reachable after release")
	}
}
