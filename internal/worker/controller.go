package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
)

// Controller samples queue depth and error rate and resizes the pool:
// one worker up after two consecutive high-depth samples with a healthy
// error rate, one worker down on a low-depth sample. It never scales up
// while the key pool is exhausted.
type Controller struct {
	cfg   *config.Config
	store *store.Store
	pool  *Pool
	keys  *llm.KeyPool

	consecutiveHigh int
}

// NewController creates the controller.
func NewController(cfg *config.Config, s *store.Store, pool *Pool, keys *llm.KeyPool) *Controller {
	return &Controller{cfg: cfg, store: s, pool: pool, keys: keys}
}

// Run ticks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Workers.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Controller) sample() {
	depth, err := c.store.QueueDepth()
	if err != nil {
		slog.Error("depth sample failed", "error", err)
		return
	}
	errRate, err := c.store.RecentErrorRate(5 * time.Minute)
	if err != nil {
		slog.Error("error-rate sample failed", "error", err)
		return
	}
	count := c.pool.Count()

	if err := c.store.RecordQueueMetric(depth, count, errRate); err != nil {
		slog.Warn("metric record failed", "error", err)
	}

	c.Decide(depth, errRate, count)
}

// Decide applies the scaling rules for one sample. Split out for tests.
func (c *Controller) Decide(depth int, errRate float64, count int) {
	switch {
	case depth > c.cfg.Workers.HighWatermark:
		c.consecutiveHigh++
	default:
		c.consecutiveHigh = 0
	}

	if c.consecutiveHigh >= 2 &&
		errRate < c.cfg.Workers.ErrorRateLimit &&
		count < c.cfg.Workers.Max {
		if c.keys != nil && c.keys.Exhausted() {
			slog.Warn("scale-up suppressed: key pool exhausted", "depth", depth)
			return
		}
		slog.Info("scaling up", "depth", depth, "workers", count+1)
		c.pool.Resize(count + 1)
		c.consecutiveHigh = 0
		return
	}

	if depth < c.cfg.Workers.LowWatermark && count > c.cfg.Workers.Min {
		slog.Info("scaling down", "depth", depth, "workers", count-1)
		c.pool.Resize(count - 1)
	}
}
