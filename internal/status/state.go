package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/aichat/internal/bus"
)

// State is the synchronization state of one chat.
type State string

const (
	Idle     State = "IDLE"
	Loading  State = "LOADING"
	Watching State = "WATCHING"
	Degraded State = "DEGRADED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:     {Loading, Watching},
	Loading:  {Watching, Degraded, Idle},
	Watching: {Degraded, Idle},
	Degraded: {Loading, Watching, Idle},
}

// Machine tracks and enforces the synchronization state of a chat.
type Machine struct {
	mu      sync.RWMutex
	chatID  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine for chatID starting in Idle.
func NewMachine(chatID string, b *bus.Bus) *Machine {
	return &Machine{
		chatID:  chatID,
		current: Idle,
		bus:     b,
	}
}

// ChatID returns the chat the machine belongs to.
func (m *Machine) ChatID() string {
	return m.chatID
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state
// is a no-op. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("chat %s: invalid transition from %s to %s", m.chatID, m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindSyncState, StatusChange{
		ChatID: m.chatID,
		From:   from,
		To:     to,
	})
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	ChatID string
	From   State
	To     State
}
