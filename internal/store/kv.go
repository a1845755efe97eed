package store

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by KV.Get for keys that were never set.
var ErrNotFound = errors.New("key not found")

// KV is durable storage for small pieces of client state.
// Set must be durable by the time it returns.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	// Subscribe delivers every value written to key after the call.
	// The returned function stops delivery.
	Subscribe(key string) (<-chan []byte, func())
}

// notifier fans written values out to per-key subscribers without blocking writers.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[int]chan []byte
	next int
}

func (n *notifier) subscribe(key string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[string]map[int]chan []byte)
	}
	if n.subs[key] == nil {
		n.subs[key] = make(map[int]chan []byte)
	}
	id := n.next
	n.next++
	n.subs[key][id] = ch
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		delete(n.subs[key], id)
		if len(n.subs[key]) == 0 {
			delete(n.subs, key)
		}
		n.mu.Unlock()
	}
}

func (n *notifier) notify(key string, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[key] {
		select {
		case ch <- append([]byte(nil), value...):
		default:
		}
	}
}

// MemoryKV is a process-local KV, used in tests and when no state file is wanted.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
	n      notifier
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	m.n.notify(key, value)
	return nil
}

func (m *MemoryKV) Subscribe(key string) (<-chan []byte, func()) {
	return m.n.subscribe(key)
}
