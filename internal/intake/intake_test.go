package intake

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/debounce"
	"github.com/attachebot/attache/internal/store"
)

type fakeTracker struct {
	touched []string
}

func (f *fakeTracker) Touch(phone, _ string) { f.touched = append(f.touched, phone) }

func newTestIntake(t *testing.T) (*Intake, *store.Store, *fakeTracker) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "intake.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.DefaultConfig()
	cfg.Owner.Address = "4915100000000"
	cfg.Owner.SecondaryID = "owner-desktop"

	tracker := &fakeTracker{}
	in := New(cfg, s, tracker)
	// A tiny window keeps tests fast; MaxBuffer high enough not to trigger.
	in.SetBuffer(debounce.New(20*time.Millisecond, 20, in.FlushBatch))
	return in, s, tracker
}

func waitDepth(t *testing.T, s *store.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, _ := s.QueueDepth(); d == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	d, _ := s.QueueDepth()
	t.Fatalf("queue depth: got %d, want %d", d, want)
}

func TestDropRules(t *testing.T) {
	in, s, _ := newTestIntake(t)

	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "1", Text: ""})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "2", Text: "hi", Group: true})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "3", Text: "hi", Broadcast: true})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "4", Text: "hi", FromSelf: true})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "5", Text: "hi", Undecryptable: true})

	contacts, _ := s.ListContacts(10)
	if len(contacts) != 0 {
		t.Fatalf("dropped events must not create contacts: %+v", contacts)
	}
}

func TestAckShortCircuitNonOwner(t *testing.T) {
	in, s, _ := newTestIntake(t)

	for _, ack := range []string{"ok", "OK", "okay", "Thanks", "lol", "yes", "no", "👍", "✅", "ok."} {
		in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "123", Text: ack})
	}

	logs, _ := s.RecentMessages("123", 10)
	if len(logs) != 0 {
		t.Fatalf("acks must not be logged: %+v", logs)
	}
	if d, _ := s.QueueDepth(); d != 0 {
		t.Fatalf("acks must not enqueue: depth %d", d)
	}

	// The contact row is still upserted (last-seen tracking).
	if c, _ := s.GetContact("123"); c == nil {
		t.Fatal("contact should exist after ack")
	}
}

func TestOwnerAckIsProcessed(t *testing.T) {
	in, s, _ := newTestIntake(t)

	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "4915100000000", Text: "ok"})

	logs, _ := s.RecentMessages("4915100000000", 10)
	if len(logs) != 1 {
		t.Fatalf("owner ack must be logged: %+v", logs)
	}
	waitDepth(t, s, 1)

	item, _ := s.Lease("w")
	if item == nil || item.Priority != store.PriorityHigh {
		t.Fatalf("owner batch priority: %+v", item)
	}
}

func TestOwnerAliasNormalization(t *testing.T) {
	in, s, _ := newTestIntake(t)

	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "owner-desktop", Text: "note this"})

	if c, _ := s.GetContact("4915100000000"); c == nil {
		t.Fatal("alias must collapse onto the canonical owner address")
	}
	if c, _ := s.GetContact("owner-desktop"); c != nil {
		t.Fatal("alias address must not create its own contact")
	}
}

func TestBurstBecomesOneBatchWithLogsPerText(t *testing.T) {
	in, s, tracker := newTestIntake(t)

	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "123", PushName: "Alice", Text: "one"})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "123", PushName: "Alice", Text: "two"})
	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "123", PushName: "Alice", Text: "three"})

	waitDepth(t, s, 1)

	item, _ := s.Lease("w")
	if item == nil || len(item.Messages) != 3 {
		t.Fatalf("batch: %+v", item)
	}
	if item.BatchText() != "one\ntwo\nthree" {
		t.Fatalf("batch text: %q", item.BatchText())
	}

	logs, _ := s.RecentMessages("123", 10)
	if len(logs) != 3 {
		t.Fatalf("one log row per raw text expected: %d", len(logs))
	}
	if len(tracker.touched) != 3 {
		t.Fatalf("tracker touches: %d", len(tracker.touched))
	}
}

func TestInvalidNameContactGetsCriticalPriority(t *testing.T) {
	in, s, _ := newTestIntake(t)

	in.HandleEvent(bus.InboundEvent{Transport: "whatsapp", Address: "987", PushName: "iPhone", Text: "hello there"})
	waitDepth(t, s, 1)

	item, _ := s.Lease("w")
	if item == nil || item.Priority != store.PriorityCritical {
		t.Fatalf("identity-discovery batch priority: %+v", item)
	}
}
