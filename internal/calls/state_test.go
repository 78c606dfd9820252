package calls

import (
	"errors"
	"testing"
)

func TestNext_ValidEdges(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		want  State
	}{
		{StateIdle, EventInitiate, StateCalling},
		{StateIdle, EventInvitationReceived, StateRinging},
		{StateCalling, EventAnswerAccepted, StateConnecting},
		{StateCalling, EventAnswerRejected, StateFailed},
		{StateCalling, EventHangup, StateEnded},
		{StateRinging, EventAccept, StateConnecting},
		{StateRinging, EventReject, StateIdle},
		{StateRinging, EventHangup, StateEnded},
		{StateConnecting, EventNegotiationComplete, StateConnected},
		{StateConnecting, EventTransportFailure, StateFailed},
		{StateConnecting, EventHangup, StateEnded},
		{StateConnected, EventTransportFailure, StateFailed},
		{StateConnected, EventHangup, StateEnded},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.event)
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", tt.from, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestNext_InvalidEdgesLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		from  State
		event Event
	}{
		{StateIdle, EventAnswerAccepted},
		{StateIdle, EventNegotiationComplete},
		{StateIdle, EventHangup},
		{StateCalling, EventAccept},
		{StateCalling, EventNegotiationComplete},
		{StateRinging, EventAnswerAccepted},
		{StateConnecting, EventInitiate},
		{StateConnected, EventAccept},
		{StateConnected, EventNegotiationComplete},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Next(%s, %s): expected ErrInvalidTransition, got %v", tt.from, tt.event, err)
		}
		if got != tt.from {
			t.Errorf("Next(%s, %s): state changed to %s on rejected transition", tt.from, tt.event, got)
		}
	}
}

func TestNext_TerminalStatesDiscardEverything(t *testing.T) {
	events := []Event{
		EventInitiate, EventInvitationReceived, EventAnswerAccepted, EventAnswerRejected,
		EventAccept, EventReject, EventNegotiationComplete, EventTransportFailure, EventHangup,
	}
	for _, terminal := range []State{StateEnded, StateFailed} {
		for _, ev := range events {
			got, err := Next(terminal, ev)
			if !errors.Is(err, ErrSessionTerminal) {
				t.Errorf("Next(%s, %s): expected ErrSessionTerminal, got %v", terminal, ev, err)
			}
			if got != terminal {
				t.Errorf("Next(%s, %s): terminal state changed to %s", terminal, ev, got)
			}
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state      State
		isTerminal bool
	}{
		{StateIdle, false},
		{StateCalling, false},
		{StateRinging, false},
		{StateConnecting, false},
		{StateConnected, false},
		{StateEnded, true},
		{StateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.isTerminal {
			t.Errorf("State(%s).IsTerminal() = %v, want %v", tt.state, got, tt.isTerminal)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateCalling, "calling"},
		{StateRinging, "ringing"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateEnded, "ended"},
		{StateFailed, "failed"},
		{State(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestFailReason(t *testing.T) {
	if got := FailReason(EventAnswerRejected); got != "rejected" {
		t.Errorf("FailReason(answer_rejected) = %q, want rejected", got)
	}
	if got := FailReason(EventTransportFailure); got != "transport_failure" {
		t.Errorf("FailReason(transport_failure) = %q, want transport_failure", got)
	}
	if got := FailReason(EventHangup); got != "" {
		t.Errorf("FailReason(hangup) = %q, want empty", got)
	}
}
