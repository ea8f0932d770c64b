// Package convo tracks conversation sessions: one active window per
// contact, closed on silence or the end-of-session sentinel, each close
// enqueueing a summary report.
package convo

import (
	"log/slog"
	"sync"
	"time"

	"github.com/attachebot/attache/internal/store"
)

// Tracker owns the per-contact silence timers. It never calls the model;
// closing a session only flips the row and enqueues a report task.
type Tracker struct {
	store   *store.Store
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	names  map[string]string
	closed bool
}

// New creates a Tracker.
func New(s *store.Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Tracker{
		store:   s,
		timeout: timeout,
		timers:  make(map[string]*time.Timer),
		names:   make(map[string]string),
	}
}

// Touch records activity on a contact: opens a session if none is active
// and re-arms the silence timer. Called on every inbound and outbound
// message.
func (t *Tracker) Touch(phone, displayName string) {
	if _, err := t.store.EnsureActiveConversation(phone); err != nil {
		slog.Error("ensure conversation failed", "phone", phone, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if displayName != "" {
		t.names[phone] = displayName
	}
	if timer, ok := t.timers[phone]; ok {
		timer.Stop()
	}
	t.timers[phone] = time.AfterFunc(t.timeout, func() {
		t.expire(phone)
	})
}

// EndSession closes the contact's active session immediately (sentinel
// path), without waiting for the silence timeout.
func (t *Tracker) EndSession(phone string) {
	t.mu.Lock()
	if timer, ok := t.timers[phone]; ok {
		timer.Stop()
		delete(t.timers, phone)
	}
	name := t.names[phone]
	t.mu.Unlock()

	t.close(phone, name, "sentinel")
}

func (t *Tracker) expire(phone string) {
	t.mu.Lock()
	delete(t.timers, phone)
	name := t.names[phone]
	t.mu.Unlock()

	t.close(phone, name, "silence")
}

func (t *Tracker) close(phone, name, cause string) {
	conv, err := t.store.ActiveConversation(phone)
	if err != nil {
		slog.Error("load active conversation failed", "phone", phone, "error", err)
		return
	}
	if conv == nil {
		return
	}
	if err := t.store.CompleteConversation(conv.ID); err != nil {
		slog.Error("complete conversation failed", "phone", phone, "error", err)
		return
	}

	lastUser := t.lastUserMessageAt(phone)
	if _, err := t.store.EnqueueReport(phone, name, conv.ID, lastUser); err != nil {
		slog.Error("report enqueue failed", "phone", phone, "error", err)
		return
	}
	slog.Info("conversation completed", "phone", phone, "conversation", conv.ID, "cause", cause)
}

func (t *Tracker) lastUserMessageAt(phone string) *time.Time {
	logs, err := t.store.RecentMessages(phone, 20)
	if err != nil {
		return nil
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].Role == store.RoleUser {
			ts := logs[i].CreatedAt
			return &ts
		}
	}
	return nil
}

// Stop cancels every timer. Pending sessions stay active in the store and
// are picked up by their next touch after restart.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for phone, timer := range t.timers {
		timer.Stop()
		delete(t.timers, phone)
	}
}
