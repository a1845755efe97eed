package store

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/aichat/internal/bus"
)

// ChatStore holds chats keyed by id plus a view sorted by last message time
// descending. The sorted view is rebuilt on every mutation.
type ChatStore struct {
	mu        sync.RWMutex
	byID      map[string]Chat
	sorted    []Chat
	lastFetch time.Time
	bus       *bus.Bus
	now       func() time.Time
}

// NewChatStore creates an empty chat store. b may be nil.
func NewChatStore(b *bus.Bus) *ChatStore {
	return &ChatStore{
		byID: make(map[string]Chat),
		bus:  b,
		now:  time.Now,
	}
}

// Upsert replaces chats with matching ids and inserts the rest.
func (s *ChatStore) Upsert(chats []Chat) {
	if len(chats) == 0 {
		return
	}
	s.mu.Lock()
	for _, c := range chats {
		s.byID[c.ID] = c.clone()
	}
	s.resortLocked()
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatsChanged, len(chats))
}

// MarkFetched records that a full chat list was just received.
func (s *ChatStore) MarkFetched() {
	s.mu.Lock()
	s.lastFetch = s.now()
	s.mu.Unlock()
}

// LastFetch returns when the chat list was last fetched in full.
func (s *ChatStore) LastFetch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetch
}

// Touch advances a chat's last message time. Times that are not strictly
// later than the stored value, and unknown chats, are ignored.
// Reports whether the chat changed.
func (s *ChatStore) Touch(chatID string, t time.Time) bool {
	s.mu.Lock()
	c, ok := s.byID[chatID]
	if !ok || !t.After(c.LastMessageTime) {
		s.mu.Unlock()
		return false
	}
	c.LastMessageTime = t
	s.byID[chatID] = c
	s.resortLocked()
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatsChanged, chatID)
	return true
}

// Get returns a copy of a chat by id.
func (s *ChatStore) Get(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c.clone(), ok
}

// Len returns the number of known chats.
func (s *ChatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns the chat list ordered by last message time descending.
func (s *ChatStore) Snapshot() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chat, len(s.sorted))
	for i, c := range s.sorted {
		out[i] = c.clone()
	}
	return out
}

func (s *ChatStore) resortLocked() {
	sorted := make([]Chat, 0, len(s.byID))
	for _, c := range s.byID {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastMessageTime.Equal(b.LastMessageTime) {
			return a.LastMessageTime.After(b.LastMessageTime)
		}
		return a.ID < b.ID
	})
	s.sorted = sorted
}
