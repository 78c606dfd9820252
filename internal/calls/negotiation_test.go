package calls

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v3"
)

func offerSDP(s string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s}
}

func answerSDP(s string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s}
}

func cand(s string) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid, SDPMLineIndex: &idx}
}

func TestNegotiation_OfferAnswerHappyPath(t *testing.T) {
	n := NewNegotiation("a1", "b2")

	accepted, err := n.ApplyOffer("a1", offerSDP("v=0 caller"))
	if err != nil || !accepted {
		t.Fatalf("ApplyOffer: accepted=%v err=%v", accepted, err)
	}
	if n.OffererID() != "a1" {
		t.Errorf("offerer = %q, want a1", n.OffererID())
	}
	if n.Ready() {
		t.Error("Ready before answer")
	}

	if err := n.ApplyAnswer("b2", answerSDP("v=0 callee")); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	if !n.Ready() {
		t.Error("expected Ready after offer+answer")
	}
}

func TestNegotiation_AnswerBeforeOfferDiscarded(t *testing.T) {
	n := NewNegotiation("a1", "b2")

	err := n.ApplyAnswer("b2", answerSDP("v=0 early"))
	if !errors.Is(err, ErrAnswerBeforeOffer) {
		t.Fatalf("expected ErrAnswerBeforeOffer, got %v", err)
	}
	if n.Ready() {
		t.Error("session became ready from a discarded answer")
	}
}

func TestNegotiation_WrongDescriptionTypes(t *testing.T) {
	n := NewNegotiation("a1", "b2")

	if _, err := n.ApplyOffer("a1", answerSDP("x")); !errors.Is(err, ErrNotOffer) {
		t.Errorf("ApplyOffer(answer): expected ErrNotOffer, got %v", err)
	}
	if _, err := n.ApplyOffer("a1", offerSDP("x")); err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if err := n.ApplyAnswer("b2", offerSDP("x")); !errors.Is(err, ErrNotAnswer) {
		t.Errorf("ApplyAnswer(offer): expected ErrNotAnswer, got %v", err)
	}
}

func TestNegotiation_GlareSmallerSenderWins(t *testing.T) {
	// Both endpoints offer. Whoever applies first, "a1" < "b2" must end up
	// the offerer of record, deterministically.
	t.Run("loser first", func(t *testing.T) {
		n := NewNegotiation("a1", "b2")
		if accepted, _ := n.ApplyOffer("b2", offerSDP("from-b2")); !accepted {
			t.Fatal("first offer should be accepted provisionally")
		}
		accepted, err := n.ApplyOffer("a1", offerSDP("from-a1"))
		if err != nil || !accepted {
			t.Fatalf("glare winner rejected: accepted=%v err=%v", accepted, err)
		}
		if n.OffererID() != "a1" {
			t.Errorf("offerer = %q, want a1", n.OffererID())
		}
		if n.Offer().SDP != "from-a1" {
			t.Errorf("offer of record = %q, want from-a1", n.Offer().SDP)
		}
	})
	t.Run("winner first", func(t *testing.T) {
		n := NewNegotiation("a1", "b2")
		if accepted, _ := n.ApplyOffer("a1", offerSDP("from-a1")); !accepted {
			t.Fatal("first offer should be accepted")
		}
		accepted, err := n.ApplyOffer("b2", offerSDP("from-b2"))
		if err != nil {
			t.Fatalf("glare loser errored: %v", err)
		}
		if accepted {
			t.Error("glare loser's offer must be discarded, not accepted")
		}
		if n.OffererID() != "a1" {
			t.Errorf("offerer = %q, want a1", n.OffererID())
		}
		if n.Offer().SDP != "from-a1" {
			t.Errorf("offer of record = %q, want from-a1", n.Offer().SDP)
		}
	})
}

func TestNegotiation_GlareDropsStaleAnswer(t *testing.T) {
	n := NewNegotiation("a1", "b2")
	if _, err := n.ApplyOffer("b2", offerSDP("from-b2")); err != nil {
		t.Fatal(err)
	}
	if err := n.ApplyAnswer("a1", answerSDP("answer-to-b2")); err != nil {
		t.Fatal(err)
	}
	// a1's own offer arrives late and wins the tie-break; the answer it had
	// sent against b2's offer is no longer valid.
	if _, err := n.ApplyOffer("a1", offerSDP("from-a1")); err != nil {
		t.Fatal(err)
	}
	if n.Ready() {
		t.Error("stale answer survived glare re-resolution")
	}
}

func TestNegotiation_CandidatesIdempotentAndOrderTolerant(t *testing.T) {
	apply := func(order []string) []webrtc.ICECandidateInit {
		n := NewNegotiation("a1", "b2")
		for _, c := range order {
			n.AddCandidate(cand(c))
		}
		// Duplicates of everything, twice.
		for i := 0; i < 2; i++ {
			for _, c := range order {
				if n.AddCandidate(cand(c)) {
					t.Errorf("duplicate candidate %q reported as new", c)
				}
			}
		}
		return n.Candidates()
	}

	forward := apply([]string{"candidate:1", "candidate:2", "candidate:3"})
	reversed := apply([]string{"candidate:3", "candidate:2", "candidate:1"})

	if len(forward) != 3 || len(reversed) != 3 {
		t.Fatalf("candidate counts: forward=%d reversed=%d, want 3", len(forward), len(reversed))
	}
	seen := map[string]bool{}
	for _, c := range reversed {
		seen[c.Candidate] = true
	}
	for _, c := range forward {
		if !seen[c.Candidate] {
			t.Errorf("candidate sets differ by arrival order: %q missing", c.Candidate)
		}
	}
}

func TestNegotiation_CandidateBeforeOfferAccepted(t *testing.T) {
	n := NewNegotiation("a1", "b2")
	if !n.AddCandidate(cand("candidate:early")) {
		t.Error("early candidate rejected; arrival order must not matter")
	}
	if _, err := n.ApplyOffer("a1", offerSDP("v=0")); err != nil {
		t.Fatal(err)
	}
	if got := len(n.Candidates()); got != 1 {
		t.Errorf("candidates = %d, want 1", got)
	}
}
