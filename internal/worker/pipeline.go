// Package worker implements the queue-driven reply pipeline: a bounded
// worker pool leasing batches, the tool-calling reply loop, and the
// adaptive concurrency controller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/convo"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
	"github.com/attachebot/attache/internal/tools"
)

// EndSessionSentinel in model output closes the session after being
// stripped from the reply.
const EndSessionSentinel = "#END_SESSION#"

const depthExhaustedReply = "I'm getting stuck on this request — I'll pass it on and get back to you."

// Gateway is the slice of the LLM gateway the pipeline uses.
type Gateway interface {
	GenerateReply(ctx context.Context, in llm.PromptInput, toolDefs []llm.ToolDef) (*llm.Reply, error)
	UpdateProfile(ctx context.Context, history []store.MessageLog, currentSummary string) (*llm.ProfileUpdate, error)
	Idle() bool
}

// Pipeline drives one leased batch through the reply loop.
type Pipeline struct {
	cfg      *config.Config
	store    *store.Store
	gateway  Gateway
	registry *tools.Registry
	router   *bus.Router
	tracker  *convo.Tracker
}

// NewPipeline creates the pipeline.
func NewPipeline(cfg *config.Config, s *store.Store, g Gateway, r *tools.Registry, router *bus.Router, tracker *convo.Tracker) *Pipeline {
	return &Pipeline{cfg: cfg, store: s, gateway: g, registry: r, router: router, tracker: tracker}
}

// retryableError marks failures that should re-enqueue the batch with a
// delayed visibility instead of burning a permanent failure.
type retryableError struct {
	err       error
	visibleAt time.Time
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Process runs the reply loop for one batch.
func (p *Pipeline) Process(ctx context.Context, item *store.QueueItem) error {
	contact, err := p.store.UpsertContact(item.SenderPhone, item.SenderName, item.Platform)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	isOwner := p.cfg.IsOwnerAddress(item.SenderPhone)

	aiProfile, err := p.store.GetAIProfile()
	if err != nil {
		return err
	}
	userProfile, err := p.store.GetUserProfile()
	if err != nil {
		return err
	}
	history, err := p.store.RecentMessages(item.SenderPhone, 50)
	if err != nil {
		return err
	}
	// The batch's own user rows are already logged; keep them out of the
	// history block so the new-message block is the only place they appear.
	history = trimTrailingUserRows(history, len(item.Messages))

	in := llm.PromptInput{
		AIProfile:   aiProfile,
		UserProfile: userProfile,
		Contact:     contact,
		IsOwner:     isOwner,
		History:     history,
		Batch:       item.BatchText(),
		NeedsName:   !isOwner && !contact.HasValidName(),
	}
	toolDefs := p.registry.Definitions()

	reply, err := p.gateway.GenerateReply(ctx, in, toolDefs)
	if err != nil {
		return p.wrapModelError(ctx, err, isOwner, item)
	}

	for depth := 0; reply.Kind == llm.ReplyToolCall && depth < p.cfg.Tools.MaxDepth; depth++ {
		result := p.registry.Execute(ctx, reply.ToolName, reply.ToolArgs, tools.Invocation{
			Contact: contact,
			IsOwner: isOwner,
		})
		slog.Info("tool executed", "tool", reply.ToolName, "contact", item.SenderPhone, "depth", depth)

		in.Batch += fmt.Sprintf("\n[tool '%s' returned %s]", reply.ToolName, result)
		reply, err = p.gateway.GenerateReply(ctx, in, toolDefs)
		if err != nil {
			return p.wrapModelError(ctx, err, isOwner, item)
		}
	}

	finalText := reply.Content
	if reply.Kind == llm.ReplyToolCall {
		// Depth exhausted; answer something rather than go silent.
		finalText = depthExhaustedReply
	}

	endSession := strings.Contains(finalText, EndSessionSentinel)
	if endSession {
		finalText = strings.TrimSpace(strings.ReplaceAll(finalText, EndSessionSentinel, ""))
	}
	if finalText == "" {
		finalText = depthExhaustedReply
	}

	if err := p.router.Send(ctx, item.Platform, item.SenderPhone, finalText); err != nil {
		return &retryableError{err: fmt.Errorf("send reply: %w", err), visibleAt: time.Now().Add(30 * time.Second)}
	}
	if err := p.store.AppendMessage(item.SenderPhone, store.RoleAgent, finalText, "text", item.Platform); err != nil {
		slog.Error("agent log append failed", "address", item.SenderPhone, "error", err)
	}

	if endSession {
		p.tracker.EndSession(item.SenderPhone)
	} else {
		p.tracker.Touch(item.SenderPhone, contact.BestName())
	}

	if !isOwner && p.gateway.Idle() {
		go p.profilingPass(contact)
	}

	return nil
}

// wrapModelError applies the failure semantics: rate-limit style errors
// re-enqueue the batch with delayed visibility (silently for non-owners;
// the owner gets the error text), anything else is terminal for this try.
func (p *Pipeline) wrapModelError(ctx context.Context, err error, isOwner bool, item *store.QueueItem) error {
	if errors.Is(err, llm.ErrAllKeysExhausted) {
		if isOwner {
			note := fmt.Sprintf("Cannot reach the language model right now: %v. I'll retry your message.", err)
			if sendErr := p.router.Send(ctx, item.Platform, item.SenderPhone, note); sendErr != nil {
				slog.Warn("owner error note failed", "error", sendErr)
			}
		}
		return &retryableError{err: err, visibleAt: time.Now().Add(time.Minute)}
	}
	return err
}

// profilingPass asks the model for a partial profile update and applies it.
// Best-effort: failures only log.
func (p *Pipeline) profilingPass(contact *store.Contact) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	history, err := p.store.RecentMessages(contact.Phone, 30)
	if err != nil || len(history) == 0 {
		return
	}
	update, err := p.gateway.UpdateProfile(ctx, history, contact.Summary)
	if err != nil || update == nil {
		return
	}
	if err := p.store.UpdateContactProfile(contact.Phone, update.Summary, update.TrustLevel); err != nil {
		slog.Warn("profile update failed", "phone", contact.Phone, "error", err)
	}
}

func trimTrailingUserRows(history []store.MessageLog, n int) []store.MessageLog {
	for n > 0 && len(history) > 0 && history[len(history)-1].Role == store.RoleUser {
		history = history[:len(history)-1]
		n--
	}
	return history
}
