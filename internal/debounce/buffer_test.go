package debounce

import (
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *collector) flush(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) get(i int) Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBurstCoalescesIntoOneBatch(t *testing.T) {
	c := &collector{}
	b := New(50*time.Millisecond, 20, c.flush)

	b.Add("123", "Alice", "whatsapp", "one")
	time.Sleep(time.Millisecond)
	b.Add("123", "Alice", "whatsapp", "two")
	b.Add("123", "Alice", "whatsapp", "three")

	waitFor(t, time.Second, func() bool { return c.count() == 1 })
	got := c.get(0)
	if len(got.Texts) != 3 || got.Texts[0] != "one" || got.Texts[2] != "three" {
		t.Fatalf("batch: %+v", got)
	}
	if got.Address != "123" || got.PushName != "Alice" {
		t.Fatalf("batch identity: %+v", got)
	}
}

func TestGapBeyondWindowProducesTwoBatches(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 20, c.flush)

	b.Add("123", "", "whatsapp", "first")
	waitFor(t, time.Second, func() bool { return c.count() == 1 })
	b.Add("123", "", "whatsapp", "second")
	waitFor(t, time.Second, func() bool { return c.count() == 2 })
}

func TestMaxBufferFlushesImmediately(t *testing.T) {
	c := &collector{}
	b := New(time.Hour, 3, c.flush)

	b.Add("123", "", "whatsapp", "a")
	b.Add("123", "", "whatsapp", "b")
	if c.count() != 0 {
		t.Fatal("premature flush")
	}
	b.Add("123", "", "whatsapp", "c")
	if c.count() != 1 {
		t.Fatalf("expected immediate flush at max buffer, got %d", c.count())
	}
	if got := c.get(0); len(got.Texts) != 3 {
		t.Fatalf("batch: %+v", got)
	}
}

func TestConsecutiveDuplicateDropped(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 20, c.flush)

	b.Add("123", "", "whatsapp", "same")
	b.Add("123", "", "whatsapp", "same")
	waitFor(t, time.Second, func() bool { return c.count() == 1 })
	if got := c.get(0); len(got.Texts) != 1 {
		t.Fatalf("duplicate not dropped: %+v", got)
	}
}

func TestSendersAreIndependent(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 20, c.flush)

	b.Add("a", "", "whatsapp", "from a")
	b.Add("b", "", "telegram", "from b")
	waitFor(t, time.Second, func() bool { return c.count() == 2 })
}

func TestCloseFlushesPending(t *testing.T) {
	c := &collector{}
	b := New(time.Hour, 20, c.flush)

	b.Add("123", "", "whatsapp", "pending")
	b.Close()
	if c.count() != 1 {
		t.Fatalf("close flush count: %d", c.count())
	}
	b.Add("123", "", "whatsapp", "after close")
	if c.count() != 1 {
		t.Fatal("add after close should be ignored")
	}
}
