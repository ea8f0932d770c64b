// Package app wires the process runtime: init → run → shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/attachebot/attache/internal/admin"
	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/channels"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/convo"
	"github.com/attachebot/attache/internal/debounce"
	"github.com/attachebot/attache/internal/intake"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/notify"
	"github.com/attachebot/attache/internal/report"
	"github.com/attachebot/attache/internal/store"
	"github.com/attachebot/attache/internal/tools"
	"github.com/attachebot/attache/internal/worker"
)

// ErrSessionConflict means another process holds the session lock or the
// transport session is unrecoverable; the process exits with code 1 for
// supervised restart.
var ErrSessionConflict = errors.New("session conflict")

// Runtime owns every component of the reply pipeline.
type Runtime struct {
	cfg      *config.Config
	store    *store.Store
	bus      *bus.Bus
	router   *bus.Router
	keypool  *llm.KeyPool
	gateway  *llm.Gateway
	registry *tools.Registry
	tracker  *convo.Tracker
	buffer   *debounce.Buffer
	intake   *intake.Intake
	pool     *worker.Pool
	ctrl     *worker.Controller
	reports  *report.Worker
	admin    *admin.Server
	whatsapp *channels.WhatsAppChannel
	telegram *channels.TelegramChannel

	holderID string
}

// New builds the runtime from config.
func New(cfg *config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := config.ExpandPath(cfg.DB.Path)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b := bus.New()
	router := bus.NewRouter()

	keypool := llm.NewKeyPool(cfg.ResolveAPIKeys())
	gateway := llm.NewGateway(
		llm.NewRESTClient(cfg.LLM.APIBase, cfg.LLM.Timeout),
		keypool,
		llm.Options{
			Model:      cfg.LLM.Model,
			MinSpacing: cfg.LLM.MinSpacing,
			RetryDelay: cfg.LLM.RetryDelay,
			MaxRetries: cfg.LLM.MaxRetries,
			Timeout:    cfg.LLM.Timeout,
		},
	)

	tracker := convo.New(st, cfg.Session.Timeout)

	rt := &Runtime{
		cfg:      cfg,
		store:    st,
		bus:      b,
		router:   router,
		keypool:  keypool,
		gateway:  gateway,
		tracker:  tracker,
		holderID: "attache-" + uuid.NewString()[:8],
	}

	rt.registry = tools.NewDefaultRegistry(tools.Deps{
		Store:  st,
		Status: rt.statusSnapshot,
	})

	pipeline := worker.NewPipeline(cfg, st, gateway, rt.registry, router, tracker)
	rt.pool = worker.NewPool(cfg, st, pipeline)
	rt.ctrl = worker.NewController(cfg, st, rt.pool, keypool)

	notifier := notify.New(cfg, router)
	rt.reports = report.New(cfg, st, gateway, notifier)

	in := intake.New(cfg, st, tracker)
	rt.buffer = debounce.New(cfg.Debounce.Window, cfg.Debounce.MaxBuffer, in.FlushBatch)
	in.SetBuffer(rt.buffer)
	rt.intake = in

	rt.whatsapp = channels.NewWhatsAppChannel(cfg.WhatsApp, b, st, filepath.Dir(dbPath))
	rt.telegram = channels.NewTelegramChannel(cfg.Telegram, b)
	router.Register(rt.whatsapp.Name(), rt.whatsapp)
	router.Register(rt.telegram.Name(), rt.telegram)

	rt.admin = admin.New(cfg, st, rt.statusSnapshot, rt)

	return rt, nil
}

// statusSnapshot backs the get_system_status tool and the admin API.
func (r *Runtime) statusSnapshot() tools.SystemStatus {
	depth, _ := r.store.QueueDepth()
	pending, _ := r.store.PendingReports()
	workers := 0
	if r.pool != nil {
		workers = r.pool.Count()
	}
	return tools.SystemStatus{
		QueueDepth:     depth,
		WorkerCount:    workers,
		PendingReports: pending,
		KeysAvailable:  r.keypool.AvailableCount(),
		WhatsApp:       r.whatsapp.Status(),
		Telegram:       r.telegram.Status(),
	}
}

// --- admin.Transports ---

func (r *Runtime) WhatsAppStatus() string  { return r.whatsapp.Status() }
func (r *Runtime) TelegramConnected() bool { return r.telegram.Status() == "connected" }

// Disconnect logs WhatsApp out, wipes credentials and releases the session
// lock. Returns before any reconnect attempt.
func (r *Runtime) Disconnect(ctx context.Context) error {
	err := r.whatsapp.Logout(ctx)
	if relErr := r.store.ReleaseSessionLock(r.cfg.Session.LockName, r.holderID); relErr != nil {
		slog.Error("session lock release failed", "error", relErr)
	}
	return err
}

// Run acquires the singleton session lock, starts every component and
// blocks until ctx is cancelled or a fatal transport state occurs.
func (r *Runtime) Run(ctx context.Context) error {
	ok, err := r.store.AcquireSessionLock(r.cfg.Session.LockName, r.holderID, r.cfg.Session.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: another process holds the session lock", ErrSessionConflict)
	}
	defer func() {
		if err := r.store.ReleaseSessionLock(r.cfg.Session.LockName, r.holderID); err != nil {
			slog.Error("session lock release failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(r.gateway.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(r.pool.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(r.ctrl.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(r.reports.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(r.admin.Run(gctx)) })
	g.Go(func() error { return r.intakeLoop(gctx) })
	g.Go(func() error { return r.lifecycleLoop(gctx) })
	g.Go(func() error { return r.heartbeatLoop(gctx) })

	if err := r.whatsapp.Start(gctx); err != nil {
		slog.Error("whatsapp start failed", "error", err)
	} else {
		r.whatsapp.SaveDeviceSnapshot()
	}
	if err := r.telegram.Start(gctx); err != nil {
		slog.Error("telegram start failed", "error", err)
	}

	slog.Info("attache running", "owner", r.cfg.Owner.Address, "workers", r.cfg.Workers.Initial)
	err = g.Wait()

	// Shutdown order: stop accepting new intake, flush buffers, stop
	// timers, disconnect transports.
	r.buffer.Close()
	r.tracker.Stop()
	_ = r.whatsapp.Stop()
	_ = r.telegram.Stop()
	_ = r.store.Close()

	return err
}

// intakeLoop feeds inbound bus events through the intake filter chain.
func (r *Runtime) intakeLoop(ctx context.Context) error {
	for {
		ev, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			return ignoreCancel(err)
		}
		r.intake.HandleEvent(ev)
	}
}

// lifecycleLoop watches transport lifecycle transitions. A fatal state
// terminates the run with ErrSessionConflict so the supervisor restarts us.
func (r *Runtime) lifecycleLoop(ctx context.Context) error {
	for {
		ev, err := r.bus.ConsumeLifecycle(ctx)
		if err != nil {
			return ignoreCancel(err)
		}
		switch ev.Kind {
		case bus.LifecycleQRNeeded:
			slog.Info("transport pairing required", "transport", ev.Transport)
		case bus.LifecycleConnected:
			slog.Info("transport connected", "transport", ev.Transport)
		case bus.LifecycleDisconnected:
			slog.Warn("transport disconnected", "transport", ev.Transport, "reason", ev.Reason)
		case bus.LifecycleFatal:
			slog.Error("transport fatal", "transport", ev.Transport, "reason", ev.Reason)
			return fmt.Errorf("%w: %s", ErrSessionConflict, ev.Reason)
		}
	}
}

// heartbeatLoop extends the session lock every minute.
func (r *Runtime) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			held, err := r.store.HeartbeatSessionLock(r.cfg.Session.LockName, r.holderID, r.cfg.Session.LockTTL)
			if err != nil {
				slog.Error("lock heartbeat failed", "error", err)
				continue
			}
			if !held {
				return fmt.Errorf("%w: session lock lost", ErrSessionConflict)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
