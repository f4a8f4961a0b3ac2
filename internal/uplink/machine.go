// ABOUTME: Pure connection state machine for the agent: states, inputs, and transitions.
// ABOUTME: Apply has no side effects so every transition is testable without sockets.

package uplink

import (
	"github.com/knyazev692/checkaso/internal/protocol"
)

// State is where the agent is in reaching the coordinator.
type State int

const (
	Searching State = iota
	Connecting
	Handshaking
	Connected
	Reconnecting
	GiveUp
)

func (s State) String() string {
	switch s {
	case Searching:
		return "SEARCHING"
	case Connecting:
		return "CONNECTING"
	case Handshaking:
		return "HANDSHAKING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case GiveUp:
		return "GIVE_UP"
	default:
		return "UNKNOWN"
	}
}

// InputKind names an event fed to the Machine.
type InputKind int

const (
	InputBeacon InputKind = iota
	InputDialed
	InputDialFailed
	InputHandshakeOK
	InputHandshakeFailed
	InputConnectionLost
	InputRetryElapsed
	InputReset
)

func (k InputKind) String() string {
	switch k {
	case InputBeacon:
		return "beacon"
	case InputDialed:
		return "dialed"
	case InputDialFailed:
		return "dial_failed"
	case InputHandshakeOK:
		return "handshake_ok"
	case InputHandshakeFailed:
		return "handshake_failed"
	case InputConnectionLost:
		return "connection_lost"
	case InputRetryElapsed:
		return "retry_elapsed"
	case InputReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Input is one event for the Machine. Addr is set only for beacons.
type Input struct {
	Kind InputKind
	Addr protocol.CoordinatorAddress
}

// Beacon is the input for a discovery beacon carrying addr.
func Beacon(addr protocol.CoordinatorAddress) Input {
	return Input{Kind: InputBeacon, Addr: addr}
}

// DefaultMaxFailures is how many consecutive failed attempts end in GiveUp.
const DefaultMaxFailures = 3

// Machine is the agent's connection state. The zero value is not usable;
// start from NewMachine.
type Machine struct {
	State       State
	Addr        protocol.CoordinatorAddress
	Failures    int
	MaxFailures int
}

// NewMachine returns a Machine in Searching with no known coordinator.
func NewMachine(maxFailures int) Machine {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return Machine{State: Searching, MaxFailures: maxFailures}
}

// Apply returns the Machine that results from in. Inputs that make no sense
// in the current state leave it unchanged.
func (m Machine) Apply(in Input) Machine {
	switch in.Kind {
	case InputBeacon:
		return m.beacon(in.Addr)

	case InputDialed:
		if m.State == Connecting {
			m.State = Handshaking
		}

	case InputDialFailed:
		if m.State == Connecting {
			return m.fail()
		}

	case InputHandshakeFailed:
		if m.State == Handshaking {
			return m.fail()
		}

	case InputHandshakeOK:
		if m.State == Handshaking {
			m.State = Connected
			m.Failures = 0
		}

	case InputConnectionLost:
		if m.State == Connected {
			m.State = Reconnecting
			m.Failures = 0
		}

	case InputRetryElapsed:
		if m.State == Reconnecting {
			m.State = Connecting
		}

	case InputReset:
		m.State = Searching
		m.Addr = protocol.CoordinatorAddress{}
		m.Failures = 0
	}
	return m
}

func (m Machine) beacon(addr protocol.CoordinatorAddress) Machine {
	if addr.IsZero() {
		return m
	}
	switch m.State {
	case Searching:
		m.State = Connecting
		m.Addr = addr
		m.Failures = 0
	case Reconnecting:
		if addr != m.Addr {
			m.State = Connecting
			m.Addr = addr
			m.Failures = 0
		}
	case Connecting, Handshaking:
		m.Addr = addr
	}
	return m
}

func (m Machine) fail() Machine {
	m.Failures++
	if m.Failures >= m.MaxFailures {
		m.State = GiveUp
		return m
	}
	m.State = Reconnecting
	return m
}
