package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/agrolink/chatsync/internal/bus"
)

// State represents the realtime connection state.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	Connecting    State = "CONNECTING"
	Connected     State = "CONNECTED"
	Reconnecting  State = "RECONNECTING"
	Disconnecting State = "DISCONNECTING"
	// Failed is the parked state after reconnection attempts are
	// exhausted. Only an explicit Connect leaves it.
	Failed State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Reconnecting, Disconnected, Failed},
	Connected:     {Reconnecting, Disconnecting, Disconnected},
	Reconnecting:  {Connecting, Disconnected, Failed},
	Disconnecting: {Disconnected},
	Failed:        {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions, publishing
// each change on the bus so the UI can show reconnecting indicators.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.ConnStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for connection state change events.
type StateChange struct {
	From State
	To   State
}
