// Package llm implements the gateway that serializes, paces and key-rotates
// every model call in the process.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/attachebot/attache/internal/store"
)

// Reply is the outcome of GenerateReply: plain text or one tool call.
type Reply struct {
	Kind     string // "text" | "toolCall"
	Content  string
	ToolName string
	ToolArgs map[string]any
}

const (
	ReplyText     = "text"
	ReplyToolCall = "toolCall"
)

// Analysis is the structured outcome of AnalyzeConversation.
type Analysis struct {
	Urgency int    `json:"urgency"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// ProfileUpdate is a partial contact-profile change suggested by the model.
type ProfileUpdate struct {
	Summary    *string `json:"summary,omitempty"`
	TrustLevel *int    `json:"trust_level,omitempty"`
}

// Options tunes the gateway.
type Options struct {
	Model      string
	MinSpacing time.Duration
	RetryDelay time.Duration
	MaxRetries int
	Timeout    time.Duration
}

type request struct {
	ctx   context.Context
	req   *GenerateRequest
	reply chan result
}

type result struct {
	resp *GenerateResponse
	err  error
}

// Gateway owns the single global FIFO of model operations. At most one call
// is in flight; consecutive calls are separated by the configured minimum
// spacing, scaled down by the number of currently available keys.
type Gateway struct {
	client   Client
	pool     *KeyPool
	opts     Options
	requests chan *request
	limiter  *rate.Limiter
	inflight atomic.Int32

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway over the given client and key pool.
func NewGateway(client Client, pool *KeyPool, opts Options) *Gateway {
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = 3 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Gateway{
		client:   client,
		pool:     pool,
		opts:     opts,
		requests: make(chan *request, 64),
		limiter:  rate.NewLimiter(rate.Every(opts.MinSpacing), 1),
		sleep:    sleepCtx,
	}
}

// Run consumes the request FIFO. It is the only goroutine that talks to the
// model API, which is what guarantees calls never interleave.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-g.requests:
			g.inflight.Store(1)
			resp, err := g.execute(req.ctx, req.req)
			g.inflight.Store(0)
			req.reply <- result{resp: resp, err: err}
		}
	}
}

// Idle reports whether the gateway has no queued or in-flight work. The
// pipeline uses it to decide whether a background profiling pass is cheap
// right now.
func (g *Gateway) Idle() bool {
	return len(g.requests) == 0 && g.inflight.Load() == 0
}

// KeyPool exposes pool state to the concurrency controller.
func (g *Gateway) KeyPool() *KeyPool {
	return g.pool
}

// call enqueues one operation and waits for its result.
func (g *Gateway) call(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		req.Model = g.opts.Model
	}
	r := &request{ctx: ctx, req: req, reply: make(chan result, 1)}
	select {
	case g.requests <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r.reply:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute runs the key rotation loop for one operation.
func (g *Gateway) execute(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		key, ok := g.pool.Next()
		if !ok {
			earliest := g.pool.EarliestAvailable()
			if earliest.IsZero() {
				// Every key disabled; waiting will not help.
				return nil, ErrAllKeysExhausted
			}
			wait := time.Until(earliest)
			if wait > g.opts.RetryDelay {
				return nil, ErrAllKeysExhausted
			}
			if err := g.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if err := g.waitSpacing(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		resp, err := g.client.Generate(callCtx, key, req)
		cancel()
		if err == nil {
			g.pool.MarkSuccess(key)
			return resp, nil
		}

		kind, retryAfter := classify(err)
		switch kind {
		case kindRateLimited:
			slog.Warn("llm key rate limited", "retry_after", retryAfter, "attempt", attempt)
			g.pool.PenalizeRateLimit(key, retryAfter)
			if err := g.sleep(ctx, g.opts.RetryDelay); err != nil {
				return nil, err
			}
		case kindTimeout:
			slog.Warn("llm call timed out, rotating key", "attempt", attempt)
			if err := g.sleep(ctx, g.opts.RetryDelay); err != nil {
				return nil, err
			}
		case kindOverloaded:
			slog.Warn("llm API overloaded, retrying same key", "attempt", attempt)
			if err := g.sleep(ctx, 2*g.opts.MinSpacing); err != nil {
				return nil, err
			}
		case kindInvalidKey:
			slog.Error("llm key invalid, disabling", "attempt", attempt)
			g.pool.Disable(key)
		default:
			return nil, err
		}
	}
	return nil, ErrAllKeysExhausted
}

// waitSpacing enforces the global minimum spacing between calls, scaled by
// the number of available keys (floored at 500ms).
func (g *Gateway) waitSpacing(ctx context.Context) error {
	spacing := g.opts.MinSpacing
	if n := g.pool.AvailableCount(); n > 1 {
		spacing = g.opts.MinSpacing / time.Duration(n)
		if spacing < 500*time.Millisecond {
			spacing = 500 * time.Millisecond
		}
	}
	g.limiter.SetLimit(rate.Every(spacing))
	return g.limiter.Wait(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- operations ---

// GenerateReply produces the next reply for a contact: text or a tool call.
func (g *Gateway) GenerateReply(ctx context.Context, in PromptInput, tools []ToolDef) (*Reply, error) {
	prompt := BuildPrompt(in)
	resp, err := g.call(ctx, &GenerateRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Tools:       tools,
		MaxTokens:   2048,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	if resp.IsToolCall() {
		return &Reply{Kind: ReplyToolCall, ToolName: resp.ToolName, ToolArgs: resp.ToolArgs}, nil
	}
	return &Reply{Kind: ReplyText, Content: strings.TrimSpace(resp.Text)}, nil
}

const analyzePrompt = `Analyze the conversation below. Return ONLY a JSON object:
{"urgency": <0-10>, "status": "<one short word>", "summary": "<max 2 sentences>"}`

// AnalyzeConversation rates a finished conversation. Parse failures return
// the typed fallback (urgency 5, status "active") instead of an error.
func (g *Gateway) AnalyzeConversation(ctx context.Context, history []store.MessageLog) (*Analysis, error) {
	resp, err := g.call(ctx, &GenerateRequest{
		Messages:    []Message{{Role: "user", Content: analyzePrompt + "\n\n" + renderHistory(history)}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	var out Analysis
	if jsonErr := json.Unmarshal([]byte(stripFences(resp.Text)), &out); jsonErr != nil {
		slog.Warn("analysis parse failed, using fallback", "error", jsonErr)
		return &Analysis{Urgency: 5, Status: "active"}, nil
	}
	return &out, nil
}

const profilePrompt = `You maintain a short profile for this contact. Current summary: %q.
Based on the conversation below, return ONLY a JSON object with the fields you want to change:
{"summary": "<max 3 sentences>", "trust_level": <0-10>}
Return {} when nothing should change.`

// UpdateProfile asks the model for a partial profile update. Returns nil
// (no update) on an empty object or a parse failure.
func (g *Gateway) UpdateProfile(ctx context.Context, history []store.MessageLog, currentSummary string) (*ProfileUpdate, error) {
	resp, err := g.call(ctx, &GenerateRequest{
		Messages:    []Message{{Role: "user", Content: fmt.Sprintf(profilePrompt, currentSummary) + "\n\n" + renderHistory(history)}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	var out ProfileUpdate
	if jsonErr := json.Unmarshal([]byte(stripFences(resp.Text)), &out); jsonErr != nil {
		return nil, nil
	}
	if out.Summary == nil && out.TrustLevel == nil {
		return nil, nil
	}
	return &out, nil
}

const reportPrompt = `Write a brief summary report of this conversation for the owner of the assistant.
Contact: %s. Mention who wrote, what they wanted, anything requiring follow-up, and the overall tone. Plain text, max 6 lines.`

// GenerateReport produces the owner-facing session summary.
func (g *Gateway) GenerateReport(ctx context.Context, history []store.MessageLog, contactName string) (string, error) {
	resp, err := g.call(ctx, &GenerateRequest{
		Messages:    []Message{{Role: "user", Content: fmt.Sprintf(reportPrompt, contactName) + "\n\n" + renderHistory(history)}},
		MaxTokens:   1024,
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func renderHistory(history []store.MessageLog) string {
	var sb strings.Builder
	for _, m := range history {
		role := "User"
		if m.Role == store.RoleAgent {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}
	return sb.String()
}
