package status

import (
	"testing"

	"github.com/matheus3301/aichat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("a", nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
	if m.ChatID() != "a" {
		t.Errorf("chat id = %q, want a", m.ChatID())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Loading},
		{Idle, Watching},
		{Loading, Watching},
		{Loading, Degraded},
		{Loading, Idle},
		{Watching, Degraded},
		{Watching, Idle},
		{Degraded, Watching},
		{Degraded, Loading},
		{Degraded, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("a", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine("a", nil)
	if err := m.Transition(Degraded); err == nil {
		t.Error("Transition(IDLE -> DEGRADED) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (should not have changed)", m.Current())
	}

	walkTo(t, m, Watching)
	if err := m.Transition(Loading); err == nil {
		t.Error("Transition(WATCHING -> LOADING) should fail; history is only loaded once")
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine("a", b)
	walkTo(t, m, Watching)
	<-ch

	if err := m.Transition(Watching); err != nil {
		t.Fatalf("Transition(WATCHING -> WATCHING) error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine("chat-1", b)
	if err := m.Transition(Loading); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSyncState {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSyncState)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.ChatID != "chat-1" || change.From != Idle || change.To != Loading {
		t.Errorf("change = %+v, want chat-1 IDLE -> LOADING", change)
	}
}

// TestOpenWithoutCacheLifecycle walks a chat opened with an empty cache:
// IDLE → LOADING → WATCHING → DEGRADED → WATCHING → IDLE
func TestOpenWithoutCacheLifecycle(t *testing.T) {
	m := NewMachine("a", nil)

	steps := []State{Loading, Watching, Degraded, Watching, Idle}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestHistoryFailureRetriesLoading verifies that a failed history fetch
// can be retried from DEGRADED without going through IDLE.
func TestHistoryFailureRetriesLoading(t *testing.T) {
	m := NewMachine("a", nil)
	walkTo(t, m, Degraded)

	if err := m.Transition(Loading); err != nil {
		t.Fatalf("DEGRADED -> LOADING: %v", err)
	}
	if m.Current() != Loading {
		t.Errorf("state = %s, want LOADING", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:     {},
		Loading:  {Loading},
		Watching: {Watching},
		Degraded: {Loading, Degraded},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
