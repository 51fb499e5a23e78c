package p2p

import (
	"context"

	"github.com/looplab/fsm"
)

const (
	eventStart      = "start"
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
	eventFail       = "fail"
	eventClose      = "close"
)

// newLifecycle wires the call states. Failed and Closed are terminal.
func newLifecycle(onEnter func(state State, err error)) *fsm.FSM {
	return fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(Idle)}, Dst: string(Connecting)},
			{Name: eventConnect, Src: []string{string(Connecting), string(Disconnected)}, Dst: string(Active)},
			{Name: eventDisconnect, Src: []string{string(Connecting), string(Active)}, Dst: string(Disconnected)},
			{Name: eventFail, Src: []string{string(Connecting), string(Active), string(Disconnected)}, Dst: string(Failed)},
			{Name: eventClose, Src: []string{string(Idle), string(Connecting), string(Active), string(Disconnected), string(Failed)}, Dst: string(Closed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				var err error
				if len(e.Args) > 0 {
					err, _ = e.Args[0].(error)
				}
				onEnter(State(e.Dst), err)
			},
		},
	)
}
