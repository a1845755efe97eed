package store

import (
	"sort"
	"sync"

	"github.com/matheus3301/aichat/internal/bus"
)

// ContactStore holds the latest known snapshot of every contact, keyed by id.
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[string]Contact
	bus      *bus.Bus
}

// NewContactStore creates an empty contact store. b may be nil.
func NewContactStore(b *bus.Bus) *ContactStore {
	return &ContactStore{
		contacts: make(map[string]Contact),
		bus:      b,
	}
}

// Upsert replaces contacts with matching ids and inserts the rest.
// Unrelated contacts are left untouched.
func (s *ContactStore) Upsert(list []Contact) {
	if len(list) == 0 {
		return
	}
	ids := make([]string, 0, len(list))
	s.mu.Lock()
	for _, c := range list {
		s.contacts[c.ID] = c
		ids = append(ids, c.ID)
	}
	s.mu.Unlock()

	s.bus.Emit(bus.KindContactsUpserted, ids)
}

// Get returns a contact by id.
func (s *ContactStore) Get(id string) (Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	return c, ok
}

// Len returns the number of known contacts.
func (s *ContactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

// Snapshot returns every contact ordered by id.
func (s *ContactStore) Snapshot() []Contact {
	s.mu.RLock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
