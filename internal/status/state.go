package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/unishare/unisync/internal/bus"
)

// State is the lifecycle state of one chat as seen by the sync controller.
type State string

const (
	Idle      State = "IDLE"
	Loading   State = "LOADING"
	Ready     State = "READY"
	Sending   State = "SENDING"
	Receiving State = "RECEIVING"
)

// KindChanged is the bus event kind published on every transition.
const KindChanged = "chat.state_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:      {Loading},
	Loading:   {Ready, Idle},
	Ready:     {Loading, Sending, Receiving, Idle},
	Sending:   {Ready, Idle},
	Receiving: {Ready, Idle},
}

// Machine tracks and enforces state transitions for a single chat.
type Machine struct {
	mu      sync.RWMutex
	chatID  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for chatID starting in Idle.
func NewMachine(chatID string, b *bus.Bus) *Machine {
	return &Machine{
		chatID:  chatID,
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Advance moves from -> to only when the machine is currently in from.
// It reports whether the transition happened.
func (m *Machine) Advance(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return false
	}
	return m.transitionLocked(to) == nil
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("chat %s: invalid transition from %s to %s", m.chatID, m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(KindChanged, StatusChange{
		ChatID: m.chatID,
		From:   from,
		To:     to,
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	ChatID string
	From   State
	To     State
}
