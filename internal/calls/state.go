package calls

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a call session.
type State int

const (
	// StateIdle - no call activity; also the result of a callee rejecting before connect.
	StateIdle State = iota
	// StateCalling - caller has initiated and is waiting for the callee's answer.
	StateCalling
	// StateRinging - callee has received an invitation and has not yet accepted.
	StateRinging
	// StateConnecting - both sides agreed; offer/answer/ICE exchange in progress.
	StateConnecting
	// StateConnected - media negotiation completed; call is live.
	StateConnected
	// StateEnded - call hung up by either side. Terminal.
	StateEnded
	// StateFailed - call failed (rejected answer or transport failure). Terminal.
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// Event is a state-machine input.
type Event int

const (
	// EventInitiate - local user starts a call (caller side).
	EventInitiate Event = iota
	// EventInvitationReceived - remote invitation arrives (callee side).
	EventInvitationReceived
	// EventAnswerAccepted - callee answered the invitation with accept=true.
	EventAnswerAccepted
	// EventAnswerRejected - callee answered the invitation with accept=false.
	EventAnswerRejected
	// EventAccept - local callee accepts a ringing call.
	EventAccept
	// EventReject - local callee rejects a ringing call; session returns to idle.
	EventReject
	// EventNegotiationComplete - offer/answer/ICE exchange finished.
	EventNegotiationComplete
	// EventTransportFailure - signaling channel or peer connection dropped.
	EventTransportFailure
	// EventHangup - either side ends the call.
	EventHangup
)

// String returns the wire name of the event.
func (e Event) String() string {
	switch e {
	case EventInitiate:
		return "initiate"
	case EventInvitationReceived:
		return "invitation_received"
	case EventAnswerAccepted:
		return "answer_accepted"
	case EventAnswerRejected:
		return "answer_rejected"
	case EventAccept:
		return "accept"
	case EventReject:
		return "reject"
	case EventNegotiationComplete:
		return "negotiation_complete"
	case EventTransportFailure:
		return "transport_failure"
	case EventHangup:
		return "hangup"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

var (
	// ErrInvalidTransition is returned when an event is not valid for the
	// current state. The session state is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSessionTerminal is returned for signals arriving after ended/failed.
	// Callers log and discard; it is never surfaced to the user.
	ErrSessionTerminal = errors.New("session in terminal state")
	// ErrSessionNotFound is returned when a session ID is unknown to the registry.
	ErrSessionNotFound = errors.New("session not found")
)

type stateEvent struct {
	state State
	event Event
}

// transitions is the closed edge set of the machine. Anything not listed is
// rejected with ErrInvalidTransition.
var transitions = map[stateEvent]State{
	{StateIdle, EventInitiate}:           StateCalling,
	{StateIdle, EventInvitationReceived}: StateRinging,

	{StateCalling, EventAnswerAccepted}: StateConnecting,
	{StateCalling, EventAnswerRejected}: StateFailed,
	{StateCalling, EventHangup}:         StateEnded,

	{StateRinging, EventAccept}: StateConnecting,
	{StateRinging, EventReject}: StateIdle,
	{StateRinging, EventHangup}: StateEnded,

	{StateConnecting, EventNegotiationComplete}: StateConnected,
	{StateConnecting, EventTransportFailure}:    StateFailed,
	{StateConnecting, EventHangup}:              StateEnded,

	{StateConnected, EventTransportFailure}: StateFailed,
	{StateConnected, EventHangup}:           StateEnded,
}

// Next returns the state reached by applying event to state. It returns
// ErrSessionTerminal when state is terminal and ErrInvalidTransition for any
// edge outside the table; in both cases the returned state equals the input.
func Next(state State, event Event) (State, error) {
	if state.IsTerminal() {
		return state, ErrSessionTerminal
	}
	next, ok := transitions[stateEvent{state, event}]
	if !ok {
		return state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
	}
	return next, nil
}

// FailReason maps a failing event to the reason recorded on the session.
func FailReason(event Event) string {
	switch event {
	case EventAnswerRejected:
		return "rejected"
	case EventTransportFailure:
		return "transport_failure"
	default:
		return ""
	}
}
