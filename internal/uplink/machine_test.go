// ABOUTME: Table tests for the pure agent state machine.
// ABOUTME: Covers the failure counter, GiveUp, and beacon handling per state.

package uplink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knyazev692/checkaso/internal/protocol"
)

var (
	addrA = protocol.CoordinatorAddress{IP: "10.0.0.1", Port: 12345}
	addrB = protocol.CoordinatorAddress{IP: "10.0.0.2", Port: 12345}
)

func in(kind InputKind) Input { return Input{Kind: kind} }

func run(m Machine, inputs ...Input) Machine {
	for _, i := range inputs {
		m = m.Apply(i)
	}
	return m
}

func TestMachine_HappyPath(t *testing.T) {
	m := run(NewMachine(3), Beacon(addrA))
	assert.Equal(t, Connecting, m.State)
	assert.Equal(t, addrA, m.Addr)

	m = run(m, in(InputDialed))
	assert.Equal(t, Handshaking, m.State)

	m = run(m, in(InputHandshakeOK))
	assert.Equal(t, Connected, m.State)
	assert.Equal(t, 0, m.Failures)
}

func TestMachine_GiveUpAfterThreeFailures(t *testing.T) {
	m := run(NewMachine(3), Beacon(addrA), in(InputDialFailed))
	assert.Equal(t, Reconnecting, m.State)
	assert.Equal(t, 1, m.Failures)

	m = run(m, in(InputRetryElapsed), in(InputDialed), in(InputHandshakeFailed))
	assert.Equal(t, Reconnecting, m.State)
	assert.Equal(t, 2, m.Failures)

	m = run(m, in(InputRetryElapsed), in(InputDialFailed))
	assert.Equal(t, GiveUp, m.State)
	assert.Equal(t, addrA, m.Addr)

	m = run(m, in(InputReset))
	assert.Equal(t, Searching, m.State)
	assert.True(t, m.Addr.IsZero())
	assert.Equal(t, 0, m.Failures)
}

func TestMachine_ConnectionLossStartsFreshCount(t *testing.T) {
	m := run(NewMachine(3),
		Beacon(addrA), in(InputDialFailed),
		in(InputRetryElapsed), in(InputDialed), in(InputHandshakeOK),
		in(InputConnectionLost))
	assert.Equal(t, Reconnecting, m.State)
	assert.Equal(t, 0, m.Failures)

	m = run(m, in(InputRetryElapsed), in(InputDialFailed), in(InputRetryElapsed), in(InputDialFailed))
	assert.Equal(t, Reconnecting, m.State)
	m = run(m, in(InputRetryElapsed), in(InputDialFailed))
	assert.Equal(t, GiveUp, m.State)
}

func TestMachine_BeaconPerState(t *testing.T) {
	tests := []struct {
		name      string
		start     Machine
		wantState State
		wantAddr  protocol.CoordinatorAddress
		wantFails int
	}{
		{
			name:      "reconnecting with new address",
			start:     Machine{State: Reconnecting, Addr: addrA, Failures: 2, MaxFailures: 3},
			wantState: Connecting,
			wantAddr:  addrB,
		},
		{
			name:      "connecting updates address only",
			start:     Machine{State: Connecting, Addr: addrA, Failures: 1, MaxFailures: 3},
			wantState: Connecting,
			wantAddr:  addrB,
			wantFails: 1,
		},
		{
			name:      "handshaking updates address only",
			start:     Machine{State: Handshaking, Addr: addrA, MaxFailures: 3},
			wantState: Handshaking,
			wantAddr:  addrB,
		},
		{
			name:      "connected ignores beacons",
			start:     Machine{State: Connected, Addr: addrA, MaxFailures: 3},
			wantState: Connected,
			wantAddr:  addrA,
		},
		{
			name:      "give up ignores beacons",
			start:     Machine{State: GiveUp, Addr: addrA, Failures: 3, MaxFailures: 3},
			wantState: GiveUp,
			wantAddr:  addrA,
			wantFails: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.start.Apply(Beacon(addrB))
			assert.Equal(t, tt.wantState, m.State)
			assert.Equal(t, tt.wantAddr, m.Addr)
			assert.Equal(t, tt.wantFails, m.Failures)
		})
	}
}

func TestMachine_SameAddressBeaconKeepsWaiting(t *testing.T) {
	start := Machine{State: Reconnecting, Addr: addrA, Failures: 1, MaxFailures: 3}
	assert.Equal(t, start, start.Apply(Beacon(addrA)))
}

func TestMachine_IgnoresOutOfPlaceInputs(t *testing.T) {
	m := NewMachine(3)
	for _, k := range []InputKind{InputDialed, InputDialFailed, InputHandshakeOK, InputHandshakeFailed, InputConnectionLost, InputRetryElapsed} {
		assert.Equal(t, m, m.Apply(in(k)), "input %s", k)
	}
	assert.Equal(t, m, m.Apply(Beacon(protocol.CoordinatorAddress{})))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "GIVE_UP", GiveUp.String())
	assert.Equal(t, "SEARCHING", Searching.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
