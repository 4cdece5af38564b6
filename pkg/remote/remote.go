// Package remote streams intensity between two machines over TCP.
//
// A receiver listens on a plain TCP address and hands out a one-time
// pairing code. A sender dials in, proves it knows the code, then streams
// speed values as little-endian float32 frames. The receiver publishes
// what it hears through a ring channel its owner polls.
package remote

import "errors"

// ErrNotConnected is returned by Sender.SendSpeed before Connect succeeds
// or after the link dropped.
var ErrNotConnected = errors.New("remote: not connected")

// pairingCodeLen is the wire length of the pairing code, a canonical
// textual UUID.
const pairingCodeLen = 36

// speedFrameLen is the wire length of one speed value, a little-endian
// IEEE 754 float32.
const speedFrameLen = 4

// EventKind discriminates receiver events.
type EventKind int

const (
	// EventStarted reports the listen address and pairing code.
	EventStarted EventKind = iota
	// EventConnection reports an authenticated sender.
	EventConnection
	// EventSpeed carries one received speed value.
	EventSpeed
	// EventStopped reports the receiver shutting down.
	EventStopped
	// EventError reports a fault the receiver survived.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventConnection:
		return "connection"
	case EventSpeed:
		return "speed"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one receiver notification. Addr and Code accompany
// EventStarted, Speed accompanies EventSpeed, Message accompanies
// EventError.
type Event struct {
	Kind    EventKind
	Addr    string
	Code    string
	Speed   float32
	Message string
}
