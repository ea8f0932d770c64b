// Package intake filters inbound events, normalizes sender identity,
// upserts contacts and feeds the debounce buffer; flushed batches land in
// the persistent queue.
package intake

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/debounce"
	"github.com/attachebot/attache/internal/store"
)

// ackPattern matches trivial acknowledgements that never reach the model
// when sent by a non-owner.
var ackPattern = regexp.MustCompile(`(?i)^(ok|okay|thanks|lol|yes|no|👍|✅)\.?$`)

// Tracker is the session-tracker seam intake touches on every message.
type Tracker interface {
	Touch(phone, displayName string)
}

// Intake wires the filter chain together.
type Intake struct {
	cfg     *config.Config
	store   *store.Store
	buffer  *debounce.Buffer
	tracker Tracker
}

// New creates the intake stage. The debounce buffer must be constructed
// with i.FlushBatch as its flush function (see app wiring).
func New(cfg *config.Config, s *store.Store, tracker Tracker) *Intake {
	return &Intake{cfg: cfg, store: s, tracker: tracker}
}

// SetBuffer injects the debounce buffer after construction (the buffer's
// flush function points back at this intake).
func (i *Intake) SetBuffer(b *debounce.Buffer) {
	i.buffer = b
}

// HandleEvent runs the drop rules in order, normalizes the sender, upserts
// the contact, logs the text and feeds the debounce buffer.
func (i *Intake) HandleEvent(ev bus.InboundEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	if ev.Group || ev.Broadcast {
		return
	}
	if ev.FromSelf {
		return
	}
	if ev.Undecryptable {
		// The transport adapter counts these toward its recovery message.
		return
	}

	address := i.normalizeAddress(ev.Address)
	isOwner := i.cfg.IsOwnerAddress(address)

	contact, err := i.store.UpsertContact(address, ev.PushName, ev.Transport)
	if err != nil {
		slog.Error("contact upsert failed", "address", address, "error", err)
		return
	}

	// Trivial acks from non-owners are dropped silently: no log, no queue,
	// no model call.
	if !isOwner && ackPattern.MatchString(strings.TrimSpace(ev.Text)) {
		slog.Debug("ack short-circuit", "address", address)
		return
	}

	if err := i.store.AppendMessage(address, store.RoleUser, ev.Text, ev.MediaKind, ev.Transport); err != nil {
		slog.Error("message log append failed", "address", address, "error", err)
	}

	i.tracker.Touch(address, contact.BestName())
	i.buffer.Add(address, ev.PushName, ev.Transport, ev.Text)
}

// FlushBatch is the debounce flush handler: it enqueues one batch with its
// priority.
func (i *Intake) FlushBatch(b debounce.Batch) {
	address := i.normalizeAddress(b.Address)
	priority := i.priorityFor(address)

	id, err := i.store.Enqueue(address, b.PushName, b.Platform, b.Texts, priority, time.Time{})
	if err != nil {
		slog.Error("enqueue failed", "address", address, "error", err)
		return
	}
	slog.Info("batch enqueued", "id", id, "address", address, "texts", len(b.Texts), "priority", priority)
}

// normalizeAddress maps any known owner alias back to the canonical
// phone-form address so every later stage sees one identity.
func (i *Intake) normalizeAddress(addr string) string {
	if i.cfg.Owner.SecondaryID != "" && addr == i.cfg.Owner.SecondaryID {
		return i.cfg.Owner.Address
	}
	return addr
}

// priorityFor maps sender to queue priority: owner commands run HIGH,
// contacts without a usable name run CRITICAL (the identity-discovery
// prompt should not starve), everyone else NORMAL.
func (i *Intake) priorityFor(address string) int {
	if i.cfg.IsOwnerAddress(address) {
		return store.PriorityHigh
	}
	if c, err := i.store.GetContact(address); err == nil && c != nil && !c.HasValidName() {
		return store.PriorityCritical
	}
	return store.PriorityNormal
}
