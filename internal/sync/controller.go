package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/aichat/internal/bus"
	"github.com/matheus3301/aichat/internal/readstate"
	"github.com/matheus3301/aichat/internal/remote"
	"github.com/matheus3301/aichat/internal/status"
	"github.com/matheus3301/aichat/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrEmptyMessage is returned by Send for blank text. No request is made.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownChat is returned for chat ids that are not in the chat store.
	ErrUnknownChat = errors.New("unknown chat")
)

// Error scopes reported by Status.
const (
	ScopeChats   = "chats"
	ScopeSend    = "send"
	ScopeContact = "contact"
)

// ScopeChat returns the error scope of a chat watcher.
func ScopeChat(chatID string) string { return "chat:" + chatID }

// Remote is the backend surface used by the controller.
type Remote interface {
	ListChatsWithMembers(ctx context.Context) ([]store.Chat, error)
	ListContacts(ctx context.Context) ([]store.Contact, error)
	CreateContact(ctx context.Context, gender store.Gender) (*remote.CreateContactResult, error)
	ListMessages(ctx context.Context, chatID string) ([]store.Message, error)
	ListMessagesNewerThan(ctx context.Context, chatID, messageID string) ([]store.Message, error)
	SendMessage(ctx context.Context, req remote.SendRequest) error
	FetchAvatar(ctx context.Context, avatarID string) (*remote.Image, error)
	FetchChatImage(ctx context.Context, chatID, imageID string) (*remote.Image, error)
}

var _ Remote = (*remote.Client)(nil)

// Options tunes polling.
type Options struct {
	MessagePollInterval  time.Duration
	ChatListPollInterval time.Duration
	ChatListMinInterval  time.Duration
}

// DefaultOptions returns the stock polling intervals.
func DefaultOptions() Options {
	return Options{
		MessagePollInterval:  3 * time.Second,
		ChatListPollInterval: 5 * time.Second,
		ChatListMinInterval:  3 * time.Second,
	}
}

// Stores groups the entity stores the controller writes to.
type Stores struct {
	Contacts *store.ContactStore
	Chats    *store.ChatStore
	Messages *store.MessageStore
}

// SyncError is the payload of bus.KindSyncError.
type SyncError struct {
	Scope   string
	Message string
}

// ChatsRefreshed is the payload of bus.KindChatListRefresh.
type ChatsRefreshed struct {
	Chats    int
	Contacts int
}

// Controller keeps the open chat's messages and the chat list current.
type Controller struct {
	remote   Remote
	contacts *store.ContactStore
	chats    *store.ChatStore
	messages *store.MessageStore
	reads    *readstate.Tracker
	bus      *bus.Bus
	log      *zap.Logger
	opts     Options
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	mu     sync.Mutex
	active *Watcher

	errMu sync.Mutex
	errs  map[string]string

	refresh singleflight.Group
}

// NewController wires a controller. log may be nil.
func NewController(r Remote, s Stores, reads *readstate.Tracker, b *bus.Bus, opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MessagePollInterval <= 0 {
		opts.MessagePollInterval = def.MessagePollInterval
	}
	if opts.ChatListPollInterval <= 0 {
		opts.ChatListPollInterval = def.ChatListPollInterval
	}
	if opts.ChatListMinInterval < 0 {
		opts.ChatListMinInterval = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		remote:   r,
		contacts: s.Contacts,
		chats:    s.Chats,
		messages: s.Messages,
		reads:    reads,
		bus:      b,
		log:      log,
		opts:     opts,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		errs:     make(map[string]string),
	}
}

// Start launches the chat-list poller. The first refresh runs immediately.
func (c *Controller) Start() {
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		c.chatListLoop()
	}()
}

// Stop cancels every loop and waits for them to exit.
func (c *Controller) Stop() {
	c.Close()
	c.cancel()
	c.loops.Wait()
}

func (c *Controller) chatListLoop() {
	ticker := time.NewTicker(c.opts.ChatListPollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.RefreshChats(c.ctx, false); err != nil && c.ctx.Err() == nil {
			c.log.Debug("chat list refresh failed", zap.Error(err))
		}
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshChats fetches chats and contacts. Unless force is set, a refresh
// within the minimum interval of the previous one is skipped. Concurrent
// callers share a single request. Reports whether a fetch happened.
func (c *Controller) RefreshChats(ctx context.Context, force bool) (bool, error) {
	if !force {
		if last := c.chats.LastFetch(); !last.IsZero() && c.now().Sub(last) < c.opts.ChatListMinInterval {
			return false, nil
		}
	}
	_, err, _ := c.refresh.Do("chats", func() (any, error) {
		return nil, c.refreshChats(ctx)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) refreshChats(ctx context.Context) error {
	var (
		chats    []store.Chat
		contacts []store.Contact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chats, err = c.remote.ListChatsWithMembers(gctx)
		return err
	})
	g.Go(func() (err error) {
		contacts, err = c.remote.ListContacts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.recordError(ScopeChats, err)
		return fmt.Errorf("refresh chats: %w", err)
	}

	c.contacts.Upsert(contacts)
	c.chats.Upsert(chats)
	c.chats.MarkFetched()
	if err := c.reads.InitializeFromChats(chats); err != nil {
		c.log.Error("failed to initialize read state", zap.Error(err))
	}
	c.clearError(ScopeChats)

	c.log.Debug("chat list refreshed", zap.Int("chats", len(chats)), zap.Int("contacts", len(contacts)))
	c.bus.Emit(bus.KindChatListRefresh, ChatsRefreshed{Chats: len(chats), Contacts: len(contacts)})
	return nil
}

// Open makes chatID the active chat and starts watching it. An empty id
// closes the active chat. Opening the chat that is already being watched
// returns the existing watcher.
func (c *Controller) Open(chatID string) (*Watcher, error) {
	if chatID == "" {
		c.Close()
		return nil, nil
	}
	if _, ok := c.chats.Get(chatID); !ok {
		return nil, fmt.Errorf("open %s: %w", chatID, ErrUnknownChat)
	}

	c.mu.Lock()
	prev := c.active
	if prev != nil && prev.chatID == chatID && prev.Running() {
		c.mu.Unlock()
		return prev, nil
	}
	w := newWatcher(c, chatID)
	c.active = w
	w.start()
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	c.log.Info("watching chat", zap.String("chat_id", chatID))
	return w, nil
}

// Close stops watching the active chat, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		c.log.Info("stopped watching chat", zap.String("chat_id", prev.chatID))
	}
}

// Active returns the watcher of the open chat, or nil.
func (c *Controller) Active() *Watcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) watcherFor(chatID string) *Watcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.chatID == chatID {
		return c.active
	}
	return nil
}

// applyMessages merges a fetch result from w and advances the chat and its
// read state to the newest message. It holds c.mu throughout so Open and
// Close cannot retire w halfway; a result from a watcher that is no longer
// active is dropped and reported with ok false.
func (c *Controller) applyMessages(w *Watcher, msgs []store.Message) (inserted int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != w || w.ctx.Err() != nil {
		return 0, false
	}
	if len(msgs) == 0 {
		return 0, true
	}
	inserted = c.messages.Upsert(w.chatID, msgs)

	newest := msgs[0].CreatedAt
	for _, m := range msgs[1:] {
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}
	c.chats.Touch(w.chatID, newest)
	if _, err := c.reads.MarkChatRead(w.chatID, newest); err != nil {
		c.log.Error("failed to mark chat read", zap.String("chat_id", w.chatID), zap.Error(err))
	}
	return inserted, true
}

// Send posts text to chatID and pokes the chat's watcher so the new message
// shows up without waiting for the next tick.
func (c *Controller) Send(ctx context.Context, chatID, text string, imageID *string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	err := c.remote.SendMessage(ctx, remote.SendRequest{
		ChatID:  chatID,
		Message: text,
		ImageID: imageID,
	})
	if err != nil {
		c.recordError(ScopeSend, err)
		return fmt.Errorf("send message: %w", err)
	}
	c.clearError(ScopeSend)
	c.bus.Emit(bus.KindMessageSent, chatID)

	if w := c.watcherFor(chatID); w != nil {
		w.Poke()
	}
	return nil
}

// CreateContact asks the backend for a new contact and records the contact,
// its chat and the chat's initial read state.
func (c *Controller) CreateContact(ctx context.Context, gender store.Gender) (*remote.CreateContactResult, error) {
	res, err := c.remote.CreateContact(ctx, gender)
	if err != nil {
		c.recordError(ScopeContact, err)
		return nil, fmt.Errorf("create contact: %w", err)
	}
	c.clearError(ScopeContact)

	c.contacts.Upsert([]store.Contact{res.Contact})
	c.chats.Upsert([]store.Chat{res.Chat})
	if err := c.reads.InitializeFromChats([]store.Chat{res.Chat}); err != nil {
		c.log.Error("failed to initialize read state", zap.String("chat_id", res.Chat.ID), zap.Error(err))
	}
	c.log.Info("contact created", zap.String("contact_id", res.Contact.ID), zap.String("chat_id", res.Chat.ID))
	return res, nil
}

// MarkRead marks chatID read up to its last message time, or now when the
// chat has never had a message.
func (c *Controller) MarkRead(chatID string) (bool, error) {
	chat, ok := c.chats.Get(chatID)
	if !ok {
		return false, fmt.Errorf("mark read %s: %w", chatID, ErrUnknownChat)
	}
	return c.reads.MarkChatRead(chatID, chat.LastMessageTime)
}

// FetchChatImage downloads an image attached to a message.
func (c *Controller) FetchChatImage(ctx context.Context, chatID, imageID string) (*remote.Image, error) {
	return c.remote.FetchChatImage(ctx, chatID, imageID)
}

// FetchAvatar downloads a contact avatar.
func (c *Controller) FetchAvatar(ctx context.Context, avatarID string) (*remote.Image, error) {
	return c.remote.FetchAvatar(ctx, avatarID)
}

// ChatView is a chat with its derived unread indicator.
type ChatView struct {
	store.Chat
	Unread     bool
	LastReadAt time.Time
}

// ChatList returns the sorted chat list with unread indicators relative to
// the open chat.
func (c *Controller) ChatList() []ChatView {
	open := ""
	if w := c.Active(); w != nil {
		open = w.chatID
	}
	chats := c.chats.Snapshot()
	out := make([]ChatView, len(chats))
	for i, chat := range chats {
		out[i] = ChatView{Chat: chat, Unread: c.reads.HasUnread(chat, open)}
		if at, ok := c.reads.LastReadAt(chat.ID); ok {
			out[i].LastReadAt = at
		}
	}
	return out
}

// Contacts returns every known contact.
func (c *Controller) Contacts() []store.Contact {
	return c.contacts.Snapshot()
}

// Messages returns the cached messages of a chat, oldest first.
func (c *Controller) Messages(chatID string) []store.Message {
	return c.messages.List(chatID)
}

// Status is a point-in-time view of the controller.
type Status struct {
	ActiveChatID    string
	State           status.State
	LatestMessageID string
	Errors          map[string]string
	Chats           int
	Contacts        int
	Messages        int
	LastChatRefresh time.Time
}

// Status reports the active chat, its watcher state, transient errors and counts.
func (c *Controller) Status() Status {
	st := Status{
		State:           status.Idle,
		Chats:           c.chats.Len(),
		Contacts:        c.contacts.Len(),
		Messages:        c.messages.Total(),
		LastChatRefresh: c.chats.LastFetch(),
	}
	if w := c.Active(); w != nil {
		st.ActiveChatID = w.chatID
		st.State = w.State()
		st.LatestMessageID = w.LatestID()
	}

	c.errMu.Lock()
	st.Errors = make(map[string]string, len(c.errs))
	for k, v := range c.errs {
		st.Errors[k] = v
	}
	c.errMu.Unlock()
	return st
}

func (c *Controller) recordError(scope string, err error) {
	msg := remote.Describe(err)
	c.errMu.Lock()
	c.errs[scope] = msg
	c.errMu.Unlock()

	c.log.Warn("sync error", zap.String("scope", scope), zap.Error(err))
	c.bus.Emit(bus.KindSyncError, SyncError{Scope: scope, Message: msg})
}

func (c *Controller) clearError(scope string) {
	c.errMu.Lock()
	delete(c.errs, scope)
	c.errMu.Unlock()
}
