package session

import (
	"sync"
	"time"
)

// State is the connection state of one tenant session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateLoggedOut    State = "closed_logged_out"
)

// Trigger is an input to a session Machine.
type Trigger string

const (
	TriggerConnect    Trigger = "connect"
	TriggerOpen       Trigger = "open"
	TriggerClose      Trigger = "close"
	TriggerLogout     Trigger = "logout"
	TriggerDisconnect Trigger = "disconnect"
)

var transitions = map[State]map[Trigger]State{
	StateDisconnected: {
		TriggerConnect:    StateConnecting,
		TriggerOpen:       StateOpen, // library-internal reconnects surface only as "open"
		TriggerClose:      StateDisconnected,
		TriggerLogout:     StateLoggedOut,
		TriggerDisconnect: StateDisconnected,
	},
	StateConnecting: {
		TriggerConnect:    StateConnecting,
		TriggerOpen:       StateOpen,
		TriggerClose:      StateDisconnected,
		TriggerLogout:     StateLoggedOut,
		TriggerDisconnect: StateDisconnected,
	},
	StateOpen: {
		TriggerOpen:       StateOpen,
		TriggerClose:      StateDisconnected,
		TriggerLogout:     StateLoggedOut,
		TriggerDisconnect: StateDisconnected,
	},
	StateLoggedOut: {
		TriggerDisconnect: StateDisconnected,
	},
}

// Machine is the per-tenant connection state machine.
// The zero value is not usable; use NewMachine.
type Machine struct {
	mu      sync.Mutex
	state   State
	changed time.Time
}

func NewMachine() *Machine {
	return &Machine{state: StateDisconnected, changed: time.Now()}
}

// Transition applies t. ok is false when t is not accepted in the current
// state, in which case the state is unchanged.
func (m *Machine) Transition(t Trigger) (from, to State, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from = m.state
	to, ok = transitions[from][t]
	if !ok {
		return from, from, false
	}
	if to != from {
		m.state = to
		m.changed = time.Now()
	}
	return from, to, true
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}
