package calls

import (
	"context"

	"github.com/looplab/fsm"
)

// Transition event names. One event per reachable destination state keeps the
// table readable; legality is decided solely by the Src lists.
const (
	evAccept = "accept"
	evReject = "reject"
	evFail   = "fail"
	evMiss   = "miss"
	evHangup = "hangup"
)

func eventFor(to State) (string, bool) {
	switch to {
	case StateConnected:
		return evAccept, true
	case StateRejected:
		return evReject, true
	case StateFailed:
		return evFail, true
	case StateMissed:
		return evMiss, true
	case StateEnded:
		return evHangup, true
	default:
		return "", false
	}
}

// newMachine builds the attempt lifecycle FSM positioned at current.
//
//	INITIATED -> {CONNECTED, REJECTED, FAILED, MISSED} -> ENDED
//
// with ENDED reachable only from CONNECTED.
func newMachine(current State) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: evAccept, Src: []string{string(StateInitiated)}, Dst: string(StateConnected)},
			{Name: evReject, Src: []string{string(StateInitiated)}, Dst: string(StateRejected)},
			{Name: evFail, Src: []string{string(StateInitiated)}, Dst: string(StateFailed)},
			{Name: evMiss, Src: []string{string(StateInitiated)}, Dst: string(StateMissed)},
			{Name: evHangup, Src: []string{string(StateConnected)}, Dst: string(StateEnded)},
		},
		fsm.Callbacks{},
	)
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Repositories use it as a guard so that no storage backend can ever record
// a regressing transition, whatever the caller asked for.
func CanTransition(from, to State) bool {
	ev, ok := eventFor(to)
	if !ok {
		return false
	}
	return newMachine(from).Can(ev)
}

// Transition applies from -> to, returning false if the move is illegal.
func Transition(from, to State) (State, bool) {
	ev, ok := eventFor(to)
	if !ok {
		return from, false
	}
	m := newMachine(from)
	if err := m.Event(context.Background(), ev); err != nil {
		return from, false
	}
	return State(m.Current()), true
}
