package calls

import "testing"

func TestCanTransition_LegalMoves(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateInitiated, StateConnected},
		{StateInitiated, StateRejected},
		{StateInitiated, StateFailed},
		{StateInitiated, StateMissed},
		{StateConnected, StateEnded},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_NeverRegresses(t *testing.T) {
	states := []State{StateInitiated, StateConnected, StateRejected, StateFailed, StateMissed, StateEnded}

	for _, from := range states {
		if CanTransition(from, StateInitiated) {
			t.Fatalf("no state may move back to INITIATED (from %s)", from)
		}
	}
	for _, terminal := range []State{StateRejected, StateFailed, StateMissed, StateEnded} {
		for _, to := range states {
			if CanTransition(terminal, to) {
				t.Fatalf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestCanTransition_EndedOnlyFromConnected(t *testing.T) {
	if CanTransition(StateInitiated, StateEnded) {
		t.Fatalf("INITIATED must not jump straight to ENDED")
	}
	if !CanTransition(StateConnected, StateEnded) {
		t.Fatalf("CONNECTED -> ENDED must be legal")
	}
}

func TestTransition_AppliesMove(t *testing.T) {
	next, ok := Transition(StateInitiated, StateConnected)
	if !ok || next != StateConnected {
		t.Fatalf("expected CONNECTED, got %s ok=%v", next, ok)
	}

	if _, ok := Transition(StateMissed, StateEnded); ok {
		t.Fatalf("expected MISSED -> ENDED to be rejected")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateRejected, StateFailed, StateMissed, StateEnded} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{StateInitiated, StateConnected} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
