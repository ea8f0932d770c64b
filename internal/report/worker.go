// Package report generates session-summary reports asynchronously and
// delivers them to the owner.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
)

// Gateway is the slice of the LLM gateway the report worker uses.
type Gateway interface {
	AnalyzeConversation(ctx context.Context, history []store.MessageLog) (*llm.Analysis, error)
	GenerateReport(ctx context.Context, history []store.MessageLog, contactName string) (string, error)
	KeyPool() *llm.KeyPool
}

// Notifier delivers the finished report to the owner.
type Notifier interface {
	NotifyOwner(ctx context.Context, text string) error
}

// Worker leases one pending report at a time.
type Worker struct {
	cfg      *config.Config
	store    *store.Store
	gateway  Gateway
	notifier Notifier

	pollInterval time.Duration
}

// New creates the report worker.
func New(cfg *config.Config, s *store.Store, g Gateway, n Notifier) *Worker {
	return &Worker{
		cfg:          cfg,
		store:        s,
		gateway:      g,
		notifier:     n,
		pollInterval: 15 * time.Second,
	}
}

// Run polls for pending reports until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		item, err := w.store.LeaseReport()
		if err != nil {
			slog.Error("report lease failed", "error", err)
			continue
		}
		if item == nil {
			continue
		}
		w.process(ctx, item)
	}
}

// ProcessOne leases and processes a single report (used by tests).
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	item, err := w.store.LeaseReport()
	if err != nil || item == nil {
		return false, err
	}
	w.process(ctx, item)
	return true, nil
}

func (w *Worker) process(ctx context.Context, item *store.ReportItem) {
	conv, err := w.store.GetConversation(item.ConversationID)
	if err != nil || conv == nil {
		w.fail(item, fmt.Errorf("conversation %d not found: %v", item.ConversationID, err))
		return
	}

	end := time.Now().UTC()
	if conv.EndedAt != nil {
		end = *conv.EndedAt
	}
	history, err := w.store.MessagesBetween(item.ContactPhone, conv.StartedAt, end)
	if err != nil {
		w.fail(item, err)
		return
	}
	if len(history) == 0 {
		// Nothing to report on; settle quietly.
		_ = w.store.CompleteReport(item.ID)
		return
	}

	// Annotate the session with urgency/summary before writing the report.
	if analysis, err := w.gateway.AnalyzeConversation(ctx, history); err == nil {
		_ = w.store.AnnotateConversation(conv.ID, analysis.Urgency, analysis.Summary)
	} else if errors.Is(err, llm.ErrAllKeysExhausted) {
		w.requeueAfterKeys(item, err)
		return
	}

	name := item.ContactName
	if name == "" {
		name = item.ContactPhone
	}
	text, err := w.gateway.GenerateReport(ctx, history, name)
	if err != nil {
		if errors.Is(err, llm.ErrAllKeysExhausted) {
			w.requeueAfterKeys(item, err)
			return
		}
		w.fail(item, err)
		return
	}

	report := fmt.Sprintf("📋 Conversation report — %s\n%s", name, text)
	if err := w.notifier.NotifyOwner(ctx, report); err != nil {
		w.fail(item, fmt.Errorf("deliver report: %w", err))
		return
	}

	if err := w.store.CompleteReport(item.ID); err != nil {
		slog.Error("report complete failed", "report", item.ID, "error", err)
		return
	}
	slog.Info("report delivered", "report", item.ID, "contact", item.ContactPhone)
}

// requeueAfterKeys re-leases the report after the earliest key cooldown.
func (w *Worker) requeueAfterKeys(item *store.ReportItem, cause error) {
	visible := time.Now().Add(time.Minute)
	if earliest := w.gateway.KeyPool().EarliestAvailable(); !earliest.IsZero() {
		visible = earliest
	}
	if err := w.store.RequeueReport(item.ID, visible, cause.Error(), w.cfg.Queue.MaxRetries); err != nil {
		slog.Error("report requeue failed", "report", item.ID, "error", err)
	}
}

func (w *Worker) fail(item *store.ReportItem, cause error) {
	slog.Warn("report attempt failed", "report", item.ID, "error", cause)
	backoff := time.Duration(item.RetryCount+1) * 30 * time.Second
	if err := w.store.RequeueReport(item.ID, time.Now().Add(backoff), cause.Error(), w.cfg.Queue.MaxRetries); err != nil {
		slog.Error("report requeue failed", "report", item.ID, "error", err)
	}
}
