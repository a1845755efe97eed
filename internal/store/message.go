package store

import (
	"sort"
	"sync"

	"github.com/matheus3301/aichat/internal/bus"
)

// MessagesUpserted is the payload of bus.KindMessagesUpserted.
type MessagesUpserted struct {
	ChatID   string
	Inserted int
	Replaced int
}

// MessageStore keeps messages partitioned by chat id. Inside a partition
// messages are keyed by id and ordered by creation time (stable on arrival).
type MessageStore struct {
	mu    sync.RWMutex
	chats map[string]*partition
	bus   *bus.Bus
}

type partition struct {
	index map[string]int
	list  []Message
}

// NewMessageStore creates an empty message store. b may be nil.
func NewMessageStore(b *bus.Bus) *MessageStore {
	return &MessageStore{
		chats: make(map[string]*partition),
		bus:   b,
	}
}

// Upsert merges msgs into chatID's partition only. Messages already present
// (same id) are replaced, never duplicated. Returns how many were new.
func (s *MessageStore) Upsert(chatID string, msgs []Message) int {
	if len(msgs) == 0 {
		return 0
	}

	s.mu.Lock()
	p, ok := s.chats[chatID]
	if !ok {
		p = &partition{index: make(map[string]int)}
	}

	// Build the next partition on the side so readers never see half a merge.
	next := &partition{
		index: make(map[string]int, len(p.index)+len(msgs)),
		list:  append(make([]Message, 0, len(p.list)+len(msgs)), p.list...),
	}
	for id, i := range p.index {
		next.index[id] = i
	}

	inserted, replaced := 0, 0
	for _, m := range msgs {
		if i, ok := next.index[m.ID]; ok {
			next.list[i] = m
			replaced++
			continue
		}
		next.index[m.ID] = len(next.list)
		next.list = append(next.list, m)
		inserted++
	}
	if inserted > 0 {
		sort.SliceStable(next.list, func(i, j int) bool {
			return next.list[i].CreatedAt.Before(next.list[j].CreatedAt)
		})
		for i, m := range next.list {
			next.index[m.ID] = i
		}
	}
	s.chats[chatID] = next
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessagesUpserted, MessagesUpserted{
		ChatID:   chatID,
		Inserted: inserted,
		Replaced: replaced,
	})
	return inserted
}

// List returns a copy of a chat's messages, oldest first.
func (s *MessageStore) List(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return append([]Message(nil), p.list...)
}

// Get returns a single message of a chat.
func (s *MessageStore) Get(chatID, msgID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.chats[chatID]
	if !ok {
		return Message{}, false
	}
	i, ok := p.index[msgID]
	if !ok {
		return Message{}, false
	}
	return p.list[i], true
}

// Latest returns the newest message of a chat.
func (s *MessageStore) Latest(chatID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.chats[chatID]
	if !ok || len(p.list) == 0 {
		return Message{}, false
	}
	return p.list[len(p.list)-1], true
}

// Len returns the number of messages cached for a chat.
func (s *MessageStore) Len(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.chats[chatID]; ok {
		return len(p.list)
	}
	return 0
}

// Total returns the number of cached messages across all chats.
func (s *MessageStore) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.chats {
		n += len(p.list)
	}
	return n
}
