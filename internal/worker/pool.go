package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/store"
)

// Pool is a resizable set of workers leasing batches from the queue.
type Pool struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *Pipeline

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	wg      sync.WaitGroup
	baseCtx context.Context
}

// NewPool creates the pool.
func NewPool(cfg *config.Config, s *store.Store, pipeline *Pipeline) *Pool {
	return &Pool{
		cfg:      cfg,
		store:    s,
		pipeline: pipeline,
		workers:  make(map[string]context.CancelFunc),
	}
}

// Run recovers stale leases, starts the initial workers and blocks until
// ctx is cancelled; then it waits for in-flight work up to the grace
// window.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.store.RecoverStaleLeases(p.cfg.Queue.LeaseTimeout); err != nil {
		slog.Error("stale lease recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("recovered stale leases", "count", n)
	}

	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	p.Resize(p.cfg.Workers.Initial)

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.Workers.ShutdownGrace):
		slog.Warn("worker shutdown grace elapsed")
	}
	return ctx.Err()
}

// Count returns the current worker count.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Resize adjusts the worker count within [Min, Max].
func (p *Pool) Resize(n int) {
	if n < p.cfg.Workers.Min {
		n = p.cfg.Workers.Min
	}
	if n > p.cfg.Workers.Max {
		n = p.cfg.Workers.Max
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseCtx == nil || p.baseCtx.Err() != nil {
		return
	}

	for len(p.workers) < n {
		id := "worker-" + uuid.NewString()[:8]
		wctx, cancel := context.WithCancel(p.baseCtx)
		p.workers[id] = cancel
		p.wg.Add(1)
		go p.workerLoop(wctx, id)
		slog.Info("worker started", "id", id, "count", len(p.workers))
	}
	for len(p.workers) > n {
		for id, cancel := range p.workers {
			cancel()
			delete(p.workers, id)
			slog.Info("worker stopped", "id", id, "count", len(p.workers))
			break
		}
	}
}

// workerLoop is the lease → execute → settle cycle. A cancelled worker
// finishes its in-flight item before exiting.
func (p *Pool) workerLoop(ctx context.Context, id string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Queue.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		item, err := p.store.Lease(id)
		if err != nil {
			slog.Error("lease failed", "worker", id, "error", err)
			continue
		}
		if item == nil {
			// Opportunistic housekeeping while idle.
			_, _ = p.store.PurgeSettled(p.cfg.Queue.RetentionTTL)
			continue
		}

		slog.Info("batch leased", "worker", id, "item", item.ID, "sender", item.SenderPhone, "priority", item.Priority)
		p.settle(ctx, id, item, p.pipeline.Process(ctx, item))
	}
}

func (p *Pool) settle(_ context.Context, workerID string, item *store.QueueItem, procErr error) {
	if procErr == nil {
		if err := p.store.Complete(item.ID); err != nil {
			slog.Error("complete failed", "item", item.ID, "error", err)
		}
		return
	}

	var retryable *retryableError
	if errors.As(procErr, &retryable) {
		slog.Warn("batch re-enqueued", "worker", workerID, "item", item.ID, "visible_at", retryable.visibleAt, "error", procErr)
		if err := p.store.Requeue(item.ID, retryable.visibleAt, procErr.Error(), p.cfg.Queue.MaxRetries); err != nil {
			slog.Error("requeue failed", "item", item.ID, "error", err)
		}
		return
	}

	slog.Error("batch failed", "worker", workerID, "item", item.ID, "error", procErr)
	backoff := time.Duration(item.RetryCount+1) * 30 * time.Second
	if err := p.store.Requeue(item.ID, time.Now().Add(backoff), procErr.Error(), p.cfg.Queue.MaxRetries); err != nil {
		slog.Error("requeue failed", "item", item.ID, "error", err)
	}
}
