// Package readstate keeps the per-chat last-read timestamps that drive
// unread indicators. The mapping is persisted through a store.KV.
package readstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/aichat/internal/bus"
	"github.com/matheus3301/aichat/internal/store"
	"go.uber.org/zap"
)

// Key is the KV key holding the mapping of chat id to epoch milliseconds.
const Key = "aichat:last-read-at"

// Change is the payload of bus.KindReadStateChanged.
type Change struct {
	ChatIDs []string
}

// Tracker records when each chat was last read.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]int64
	kv      store.KV
	bus     *bus.Bus
	log     *zap.Logger
	now     func() time.Time

	unsub     func()
	done      chan struct{}
	closeOnce sync.Once
}

// New loads the persisted mapping from kv and follows later writes to Key
// made by other holders of the same KV. A missing key starts empty; a
// corrupt or null value is logged and discarded. Call Close to stop following.
func New(kv store.KV, b *bus.Bus, log *zap.Logger) (*Tracker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		entries: make(map[string]int64),
		kv:      kv,
		bus:     b,
		log:     log,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	// Subscribe before the load so no write between the two is missed.
	updates, unsub := kv.Subscribe(Key)
	t.unsub = unsub

	raw, err := kv.Get(Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		unsub()
		return nil, fmt.Errorf("load read state: %w", err)
	default:
		if t.entries, err = decode(raw); err != nil {
			log.Warn("discarding unreadable read state", zap.Error(err))
		}
	}

	go t.follow(updates)
	return t, nil
}

// Close stops following external writes. It is safe to call more than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.unsub()
		close(t.done)
	})
}

func (t *Tracker) follow(updates <-chan []byte) {
	for {
		select {
		case <-t.done:
			return
		case raw := <-updates:
			t.merge(raw)
		}
	}
}

// merge folds a stored mapping into memory, keeping the later time per chat.
// The merged state is not written back; the writer already persisted it.
func (t *Tracker) merge(raw []byte) {
	incoming, err := decode(raw)
	if err != nil {
		t.log.Warn("ignoring unreadable read state update", zap.Error(err))
		return
	}

	t.mu.Lock()
	var changed []string
	for id, ms := range incoming {
		if prev, ok := t.entries[id]; ok && ms <= prev {
			continue
		}
		t.entries[id] = ms
		changed = append(changed, id)
	}
	t.mu.Unlock()

	if len(changed) > 0 {
		sort.Strings(changed)
		t.bus.Emit(bus.KindReadStateChanged, Change{ChatIDs: changed})
	}
}

// decode always returns a usable map, even alongside an error.
func decode(raw []byte) (map[string]int64, error) {
	var entries map[string]int64
	if err := json.Unmarshal(raw, &entries); err != nil {
		return make(map[string]int64), err
	}
	if entries == nil {
		return make(map[string]int64), errors.New("read state is null")
	}
	return entries, nil
}

// InitializeFromChats adds an entry for every chat not yet tracked, set to
// the chat's current last message time. Existing entries are never touched.
func (t *Tracker) InitializeFromChats(chats []store.Chat) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []string
	for _, c := range chats {
		if _, ok := t.entries[c.ID]; ok {
			continue
		}
		t.entries[c.ID] = c.LastMessageTime.UnixMilli()
		added = append(added, c.ID)
	}
	if len(added) == 0 {
		return nil
	}
	if err := t.persistLocked(); err != nil {
		for _, id := range added {
			delete(t.entries, id)
		}
		return err
	}
	t.bus.Emit(bus.KindReadStateChanged, Change{ChatIDs: added})
	return nil
}

// MarkChatRead records chatID as read at at, or now when at is zero.
// The stored value never moves backwards. Reports whether it changed.
func (t *Tracker) MarkChatRead(chatID string, at time.Time) (bool, error) {
	if at.IsZero() {
		at = t.now()
	}
	ms := at.UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.entries[chatID]
	if ok && ms <= prev {
		return false, nil
	}
	t.entries[chatID] = ms
	if err := t.persistLocked(); err != nil {
		if ok {
			t.entries[chatID] = prev
		} else {
			delete(t.entries, chatID)
		}
		return false, err
	}
	t.bus.Emit(bus.KindReadStateChanged, Change{ChatIDs: []string{chatID}})
	return true, nil
}

// LastReadAt returns the last-read time of a chat, if tracked.
func (t *Tracker) LastReadAt(chatID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms, ok := t.entries[chatID]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Snapshot returns a copy of the mapping in epoch milliseconds.
func (t *Tracker) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// HasUnread reports whether chat should show an unread indicator: it is not
// the open chat, it has an entry, and its last message is newer than that entry.
func (t *Tracker) HasUnread(chat store.Chat, openChatID string) bool {
	if chat.ID == openChatID {
		return false
	}
	t.mu.Lock()
	ms, ok := t.entries[chat.ID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return chat.LastMessageTime.UnixMilli() > ms
}

func (t *Tracker) persistLocked() error {
	raw, err := json.Marshal(t.entries)
	if err != nil {
		return fmt.Errorf("encode read state: %w", err)
	}
	if err := t.kv.Set(Key, raw); err != nil {
		return fmt.Errorf("persist read state: %w", err)
	}
	return nil
}
