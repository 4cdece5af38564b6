// Package transport defines the message-passing contract between the
// Bluetooth actors and their owner. The owner pushes commands into an
// actor and drains events on its own schedule; neither side ever blocks
// on the other.
//
// Two implementations exist: the connection-oriented GATT transport
// (pkg/transport/gatt) and the connectionless spoofed-advertising
// transport (pkg/transport/broadcast). The owner selects which one is
// live for a session; they share no state and may run simultaneously.
package transport

import "errors"

var (
	// ErrStopped is returned when a command is issued to a transport
	// that is not running. Terminal for the command, not for the
	// transport: Start brings it back.
	ErrStopped = errors.New("transport stopped")

	// ErrAlreadyRunning is returned by Start when a worker is already
	// active. A second concurrent worker against the same adapter is
	// never spawned.
	ErrAlreadyRunning = errors.New("transport already running")
)

// Device identifies a discovered accessory. Identity is the address;
// discovery may report the same address multiple times and
// deduplication is the owner's responsibility.
type Device struct {
	Address string
	Name    string
}

// DisplayName returns the advertised name, falling back to the address.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// EventKind discriminates actor-outbound events.
type EventKind int

const (
	// AdapterReady reports the platform adapter is up and scanning.
	AdapterReady EventKind = iota
	// AdapterError reports a fatal adapter failure; the actor needs an
	// explicit restart.
	AdapterError
	// DeviceDiscovered carries a newly seen accessory advertisement.
	DeviceDiscovered
	// DeviceConnecting reports a connection attempt has started.
	DeviceConnecting
	// DeviceConnected reports a peripheral connection is established.
	DeviceConnected
	// DeviceDisconnected reports a peripheral teardown, requested or not.
	DeviceDisconnected
)

func (k EventKind) String() string {
	switch k {
	case AdapterReady:
		return "adapter_ready"
	case AdapterError:
		return "adapter_error"
	case DeviceDiscovered:
		return "device_discovered"
	case DeviceConnecting:
		return "device_connecting"
	case DeviceConnected:
		return "device_connected"
	case DeviceDisconnected:
		return "device_disconnected"
	}
	return "unknown"
}

// Event is an actor-outbound message. Address is set for the
// connection lifecycle kinds, Device for DeviceDiscovered, and Message
// for AdapterError.
type Event struct {
	Kind    EventKind
	Address string
	Device  Device
	Message string
}

// CommandKind discriminates owner-inbound commands.
type CommandKind int

const (
	// CmdConnect requests a connection to Command.Address.
	CmdConnect CommandKind = iota
	// CmdDisconnect tears down the active peripheral, if any.
	CmdDisconnect
	// CmdSendRaw writes Command.Data to the accessory verbatim.
	CmdSendRaw
	// CmdSendIntensity delivers Command.Level through the transport's
	// native encoding.
	CmdSendIntensity
)

// Command is an owner-inbound message. Commands are processed in
// arrival order, one at a time.
type Command struct {
	Kind    CommandKind
	Address string
	Data    []byte
	Level   byte
}

// Transport is the capability the owner programs against, regardless
// of which radio path delivers the command.
type Transport interface {
	// Start acquires the adapter and spins up the worker. Starting a
	// running transport returns ErrAlreadyRunning.
	Start() error

	// Stop tears down the worker and closes the event channel. Safe to
	// call concurrently with in-flight operations; resolves to a
	// consistent stopped state.
	Stop()

	// Connect requests a connection to the given address. On the
	// broadcast transport, which has no connections, it is a no-op.
	Connect(address string) error

	// Disconnect tears down any active peripheral. No-op without one.
	Disconnect() error

	// SendIntensity delivers an intensity level. Identical consecutive
	// levels are debounced and produce no traffic.
	SendIntensity(level byte) error

	// Events returns the actor-outbound stream. The channel is closed
	// when the transport stops; the owner polls non-blockingly.
	Events() <-chan Event

	// Poll performs a non-blocking receive on the event stream,
	// returning false when no event is pending.
	Poll() (Event, bool)
}
