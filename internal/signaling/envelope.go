// Package signaling carries call and chat messages between endpoints over an
// at-least-once channel. Payloads are a closed tagged union validated at the
// relay boundary before dispatch; consumers dedup on (session, sequence).
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Kind discriminates the envelope payload.
type Kind string

const (
	KindOffer              Kind = "offer"
	KindAnswer             Kind = "answer"
	KindICECandidate       Kind = "ice_candidate"
	KindTranslationRequest Kind = "translation_request"
	KindTranslationResult  Kind = "translation_result"
	KindTyping             Kind = "typing"
	KindReadReceipt        Kind = "read_receipt"
	KindSubscribe          Kind = "subscribe"
)

var (
	// ErrUnknownKind is returned for a kind outside the closed union.
	ErrUnknownKind = errors.New("unknown envelope kind")
	// ErrBadPayload is returned when the payload does not decode to the
	// shape required by its kind.
	ErrBadPayload = errors.New("malformed envelope payload")
)

// Envelope is one signaling message. The relay treats Payload as opaque bytes
// in transit; Decode validates it against the kind at the receiving boundary.
type Envelope struct {
	SessionID uuid.UUID       `json:"session_id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SenderID  string          `json:"sender_id"`
	Sequence  uint64          `json:"sequence_number"`
	SentAt    time.Time       `json:"sent_at"`
}

// DescriptionPayload carries an SDP offer or answer.
type DescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SessionDescription converts the payload to a pion description.
func (p DescriptionPayload) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}
}

// TranslationRequestPayload carries a recognized speech segment for translation.
type TranslationRequestPayload struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Text           string `json:"text"`
	IsFinal        bool   `json:"is_final"`
}

// TranslationResultPayload carries the translated text back to the session.
type TranslationResultPayload struct {
	TargetLanguage string `json:"target_language"`
	TranslatedText string `json:"translated_text"`
	AudioRef       string `json:"audio_ref,omitempty"`
}

// TypingPayload signals a typing indicator state change in a conversation.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Stopped        bool      `json:"stopped"`
}

// ReadReceiptPayload marks a message as read by a user.
type ReadReceiptPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	UserID         string    `json:"user_id"`
}

// SubscribePayload attaches the sender to a call or conversation stream.
// Replayed by the client for every active session after a reconnect.
type SubscribePayload struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	CallID         *uuid.UUID `json:"call_id,omitempty"`
}

// Decode validates the envelope payload against its kind and returns the
// typed payload. Unknown kinds and malformed payloads are rejected here so
// handlers only ever see well-formed shapes.
func (e Envelope) Decode() (interface{}, error) {
	switch e.Kind {
	case KindOffer, KindAnswer:
		var p DescriptionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.SDP == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindICECandidate:
		var p webrtc.ICECandidateInit
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Candidate == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindTranslationRequest:
		var p TranslationRequestPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Text == "" || p.SourceLanguage == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindTranslationResult:
		var p TranslationResultPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.TranslatedText == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindTyping:
		var p TypingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.UserID == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindReadReceipt:
		var p ReadReceiptPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.UserID == "" {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	case KindSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || (p.ConversationID == nil && p.CallID == nil) {
			return nil, fmt.Errorf("%w: %s", ErrBadPayload, e.Kind)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}
