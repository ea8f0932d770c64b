package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
)

func newControllerFixture(t *testing.T, keys *llm.KeyPool) (*Controller, *Pool) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ctl.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.DefaultConfig()
	cfg.Owner.Address = "owner"
	cfg.Workers.Initial = 4
	cfg.Queue.PollInterval = 10 * time.Millisecond

	pool := NewPool(cfg, s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)
	waitCount(t, pool, 4)

	return NewController(cfg, s, pool, keys), pool
}

func waitCount(t *testing.T, pool *Pool, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pool.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker count: got %d, want %d", pool.Count(), want)
}

func TestScaleUpNeedsTwoConsecutiveHighSamples(t *testing.T) {
	c, pool := newControllerFixture(t, nil)

	c.Decide(50, 0.0, pool.Count())
	if pool.Count() != 4 {
		t.Fatalf("one high sample must not scale: %d", pool.Count())
	}
	c.Decide(50, 0.0, pool.Count())
	waitCount(t, pool, 5)
}

func TestHighErrorRateBlocksScaleUp(t *testing.T) {
	c, pool := newControllerFixture(t, nil)

	c.Decide(50, 0.9, pool.Count())
	c.Decide(50, 0.9, pool.Count())
	if pool.Count() != 4 {
		t.Fatalf("error rate must block scale-up: %d", pool.Count())
	}
}

func TestExhaustedKeyPoolBlocksScaleUp(t *testing.T) {
	keys := llm.NewKeyPool([]string{"a"})
	keys.PenalizeRateLimit("a", time.Hour)
	c, pool := newControllerFixture(t, keys)

	c.Decide(50, 0.0, pool.Count())
	c.Decide(50, 0.0, pool.Count())
	if pool.Count() != 4 {
		t.Fatalf("exhausted keys must block scale-up: %d", pool.Count())
	}
}

func TestScaleDownOnLowDepth(t *testing.T) {
	c, pool := newControllerFixture(t, nil)

	c.Decide(0, 0.0, pool.Count())
	waitCount(t, pool, 3)
}

func TestScaleRespectsBounds(t *testing.T) {
	c, pool := newControllerFixture(t, nil)

	for i := 0; i < 50; i++ {
		c.Decide(0, 0.0, pool.Count())
	}
	waitCount(t, pool, 1) // Workers.Min

	for i := 0; i < 100; i++ {
		c.Decide(50, 0.0, pool.Count())
	}
	waitCount(t, pool, 16) // Workers.Max
}
