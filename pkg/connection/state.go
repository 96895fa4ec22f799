package connection

import "fmt"

// State is the state of the session with the peer.
type State int

// States of a session.
const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
)

var stateNames = []string{"Disconnected", "Handshaking", "Connected"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// StateListener is notified about state changes.
type StateListener interface {
	StateChanged(from, to State)
}

// StateListenerFunc is the func form of StateListener.
type StateListenerFunc func(from, to State)

// StateChanged implements StateListener.
func (f StateListenerFunc) StateChanged(from, to State) {
	f(from, to)
}
