package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/aichat/internal/status"
	"github.com/matheus3301/aichat/internal/store"
	"go.uber.org/zap"
)

// Watcher polls one chat for new messages until cancelled. The first poll
// loads the full history when nothing is cached; every later poll asks only
// for messages newer than the latest known one.
type Watcher struct {
	ctrl     *Controller
	chatID   string
	machine  *status.Machine
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	poke   chan struct{}

	inFlight atomic.Bool
	polls    sync.WaitGroup

	mu       sync.Mutex
	latestID string
}

func newWatcher(c *Controller, chatID string) *Watcher {
	ctx, cancel := context.WithCancel(c.ctx)
	return &Watcher{
		ctrl:     c,
		chatID:   chatID,
		machine:  status.NewMachine(chatID, c.bus),
		interval: c.opts.MessagePollInterval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		poke:     make(chan struct{}, 1),
	}
}

// ChatID returns the watched chat.
func (w *Watcher) ChatID() string { return w.chatID }

// State returns the synchronization state of the chat.
func (w *Watcher) State() status.State { return w.machine.Current() }

// LatestID returns the newest message id seen by the watcher.
func (w *Watcher) LatestID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latestID
}

// Running reports whether the watcher is still polling.
func (w *Watcher) Running() bool {
	select {
	case <-w.done:
		return false
	default:
		return w.ctx.Err() == nil
	}
}

// Cancel stops polling and waits until no request for the chat is in flight.
func (w *Watcher) Cancel() {
	w.cancel()
	<-w.done
}

// Poke requests an immediate poll. It is dropped when a poll is already
// pending or in flight.
func (w *Watcher) Poke() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

func (w *Watcher) start() {
	if latest, ok := w.ctrl.messages.Latest(w.chatID); ok {
		w.setLatest(latest.ID)
		w.transition(status.Watching)
	}
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.fire()
	for {
		select {
		case <-w.ctx.Done():
			w.polls.Wait()
			w.transition(status.Idle)
			return
		case <-ticker.C:
			w.fire()
		case <-w.poke:
			w.fire()
		}
	}
}

// fire starts a poll unless the previous one has not settled yet.
func (w *Watcher) fire() {
	if !w.inFlight.CompareAndSwap(false, true) {
		w.ctrl.log.Debug("poll skipped, previous still in flight", zap.String("chat_id", w.chatID))
		return
	}
	w.polls.Add(1)
	go func() {
		defer w.polls.Done()
		defer w.inFlight.Store(false)
		w.poll()
	}()
}

func (w *Watcher) poll() {
	c := w.ctrl
	scope := ScopeChat(w.chatID)

	latest := w.LatestID()
	var (
		msgs []store.Message
		err  error
	)
	if latest == "" {
		w.transition(status.Loading)
		msgs, err = c.remote.ListMessages(w.ctx, w.chatID)
	} else {
		msgs, err = c.remote.ListMessagesNewerThan(w.ctx, w.chatID, latest)
	}

	// The chat was closed while the request was in flight.
	if w.ctx.Err() != nil {
		c.log.Debug("discarding stale poll result", zap.String("chat_id", w.chatID))
		return
	}
	if err != nil {
		c.recordError(scope, err)
		w.transition(status.Degraded)
		return
	}
	c.clearError(scope)

	n, ok := c.applyMessages(w, msgs)
	if !ok {
		c.log.Debug("discarding stale poll result", zap.String("chat_id", w.chatID))
		return
	}
	if n > 0 {
		c.log.Debug("new messages", zap.String("chat_id", w.chatID), zap.Int("count", n))
	}
	if m, ok := c.messages.Latest(w.chatID); ok {
		w.setLatest(m.ID)
		w.transition(status.Watching)
	} else {
		w.transition(status.Loading)
	}
}

func (w *Watcher) setLatest(id string) {
	w.mu.Lock()
	w.latestID = id
	w.mu.Unlock()
}

func (w *Watcher) transition(to status.State) {
	if err := w.machine.Transition(to); err != nil {
		w.ctrl.log.Debug("ignoring state transition", zap.Error(err))
	}
}
