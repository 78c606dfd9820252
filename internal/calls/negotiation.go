package calls

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

var (
	// ErrAnswerBeforeOffer is returned when an answer arrives with no offer on
	// record. The answer is discarded; the session is unaffected.
	ErrAnswerBeforeOffer = errors.New("answer received before offer")
	// ErrNotOffer is returned when ApplyOffer is given a non-offer description.
	ErrNotOffer = errors.New("description is not an offer")
	// ErrNotAnswer is returned when ApplyAnswer is given a non-answer description.
	ErrNotAnswer = errors.New("description is not an answer")
)

// Negotiation tracks the offer/answer/ICE exchange for one session. ICE
// candidates are idempotent and order-tolerant; offer/answer are causal (an
// answer before its offer is discarded). On glare the endpoint with the
// lexicographically smaller sender ID is the offerer of record.
type Negotiation struct {
	mu         sync.Mutex
	callerID   string
	calleeID   string
	offer      *webrtc.SessionDescription
	offererID  string
	answer     *webrtc.SessionDescription
	seen       map[string]struct{}
	candidates []webrtc.ICECandidateInit
}

// NewNegotiation creates the negotiation tracker for a session.
func NewNegotiation(callerID, calleeID string) *Negotiation {
	return &Negotiation{
		callerID: callerID,
		calleeID: calleeID,
		seen:     make(map[string]struct{}),
	}
}

// ApplyOffer records an offer from senderID. Returns true when the offer was
// accepted as the offer of record. On glare (an offer already held from the
// other endpoint) the lexicographically smaller sender ID wins and the losing
// offer is discarded with accepted=false, nil error.
func (n *Negotiation) ApplyOffer(senderID string, sdp webrtc.SessionDescription) (bool, error) {
	if sdp.Type != webrtc.SDPTypeOffer {
		return false, fmt.Errorf("%w: got %s", ErrNotOffer, sdp.Type)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.offer == nil:
		n.offer = &sdp
		n.offererID = senderID
		return true, nil
	case n.offererID == senderID:
		// Redelivery or renegotiation from the offerer of record: replace.
		n.offer = &sdp
		return true, nil
	default:
		// Glare: both endpoints sent an offer. Smaller sender ID wins.
		if senderID < n.offererID {
			n.offer = &sdp
			n.offererID = senderID
			n.answer = nil
			return true, nil
		}
		return false, nil
	}
}

// ApplyAnswer records the answer to the offer of record. An answer arriving
// before any offer, or from the offerer itself, is rejected.
func (n *Negotiation) ApplyAnswer(senderID string, sdp webrtc.SessionDescription) error {
	if sdp.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: got %s", ErrNotAnswer, sdp.Type)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offer == nil {
		return ErrAnswerBeforeOffer
	}
	if senderID == n.offererID {
		return fmt.Errorf("%w: answer from offerer %s", ErrAnswerBeforeOffer, senderID)
	}
	n.answer = &sdp
	return nil
}

// AddCandidate records an ICE candidate. Duplicates are ignored; candidates
// may arrive in any order relative to each other and to the offer/answer.
// Returns true when the candidate was new.
func (n *Negotiation) AddCandidate(cand webrtc.ICECandidateInit) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := candidateKey(cand)
	if _, dup := n.seen[key]; dup {
		return false
	}
	n.seen[key] = struct{}{}
	n.candidates = append(n.candidates, cand)
	return true
}

// Ready reports whether both descriptions are on record, i.e. the exchange
// can complete once candidates pair up.
func (n *Negotiation) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offer != nil && n.answer != nil
}

// OffererID returns the sender ID of the offer of record, or "".
func (n *Negotiation) OffererID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offererID
}

// Offer returns a copy of the offer of record, or nil.
func (n *Negotiation) Offer() *webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offer == nil {
		return nil
	}
	cp := *n.offer
	return &cp
}

// Answer returns a copy of the recorded answer, or nil.
func (n *Negotiation) Answer() *webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.answer == nil {
		return nil
	}
	cp := *n.answer
	return &cp
}

// Candidates returns the unique candidates in arrival order.
func (n *Negotiation) Candidates() []webrtc.ICECandidateInit {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(n.candidates))
	copy(out, n.candidates)
	return out
}

func candidateKey(c webrtc.ICECandidateInit) string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	idx := uint16(0)
	if c.SDPMLineIndex != nil {
		idx = *c.SDPMLineIndex
	}
	return fmt.Sprintf("%s|%s|%d", c.Candidate, mid, idx)
}
