package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attachebot/attache/internal/bus"
	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/convo"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
	"github.com/attachebot/attache/internal/tools"
)

// scriptedGateway returns queued replies in order.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []*llm.Reply
	errs    []error
	calls   int
	idle    bool
}

func (g *scriptedGateway) GenerateReply(_ context.Context, _ llm.PromptInput, _ []llm.ToolDef) (*llm.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return &llm.Reply{Kind: llm.ReplyText, Content: "default"}, nil
}

func (g *scriptedGateway) UpdateProfile(context.Context, []store.MessageLog, string) (*llm.ProfileUpdate, error) {
	return nil, nil
}

func (g *scriptedGateway) Idle() bool { return g.idle }

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSender struct {
	mu    sync.Mutex
	sends []string
	fail  bool
}

func (f *fakeSender) SendText(_ context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport down")
	}
	f.sends = append(f.sends, address+"|"+text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sends...)
}

func newTestPipeline(t *testing.T, g Gateway) (*Pipeline, *store.Store, *fakeSender, *convo.Tracker) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.DefaultConfig()
	cfg.Owner.Address = "4915100000000"

	sender := &fakeSender{}
	router := bus.NewRouter()
	router.Register(bus.TransportWhatsApp, sender)

	tracker := convo.New(s, time.Hour)
	t.Cleanup(tracker.Stop)

	registry := tools.NewDefaultRegistry(tools.Deps{Store: s, Status: func() tools.SystemStatus {
		return tools.SystemStatus{QueueDepth: 1, WorkerCount: 4}
	}})
	return NewPipeline(cfg, s, g, registry, router, tracker), s, sender, tracker
}

func item(phone string, texts ...string) *store.QueueItem {
	return &store.QueueItem{
		ID:          1,
		SenderPhone: phone,
		Platform:    bus.TransportWhatsApp,
		Messages:    texts,
	}
}

func TestPlainTextReply(t *testing.T) {
	g := &scriptedGateway{replies: []*llm.Reply{{Kind: llm.ReplyText, Content: "We open at nine."}}}
	p, s, sender, _ := newTestPipeline(t, g)

	if err := p.Process(context.Background(), item("123", "what time do you open?")); err != nil {
		t.Fatalf("process: %v", err)
	}

	sends := sender.sent()
	if len(sends) != 1 || !strings.Contains(sends[0], "We open at nine.") {
		t.Fatalf("sends: %v", sends)
	}
	if g.callCount() != 1 {
		t.Fatalf("model calls: %d", g.callCount())
	}

	logs, _ := s.RecentMessages("123", 10)
	if len(logs) != 1 || logs[0].Role != store.RoleAgent {
		t.Fatalf("agent log expected: %+v", logs)
	}
	if conv, _ := s.ActiveConversation("123"); conv == nil {
		t.Fatal("reply must open/touch the session")
	}
}

func TestToolCallLoop(t *testing.T) {
	g := &scriptedGateway{replies: []*llm.Reply{
		{Kind: llm.ReplyToolCall, ToolName: "get_system_status", ToolArgs: map[string]any{}},
		{Kind: llm.ReplyText, Content: "Queue depth 1, four workers."},
	}}
	p, _, sender, _ := newTestPipeline(t, g)

	if err := p.Process(context.Background(), item("4915100000000", "/status")); err != nil {
		t.Fatal(err)
	}
	if g.callCount() != 2 {
		t.Fatalf("model calls: %d", g.callCount())
	}
	sends := sender.sent()
	if len(sends) != 1 || !strings.Contains(sends[0], "four workers") {
		t.Fatalf("sends: %v", sends)
	}
}

func TestToolDepthExhaustedYieldsFallback(t *testing.T) {
	var replies []*llm.Reply
	for i := 0; i < 10; i++ {
		replies = append(replies, &llm.Reply{Kind: llm.ReplyToolCall, ToolName: "get_current_time", ToolArgs: map[string]any{}})
	}
	g := &scriptedGateway{replies: replies}
	p, _, sender, _ := newTestPipeline(t, g)

	if err := p.Process(context.Background(), item("123", "loop forever")); err != nil {
		t.Fatal(err)
	}
	// Initial call plus MaxToolDepth iterations.
	if g.callCount() != 1+5 {
		t.Fatalf("model calls: %d", g.callCount())
	}
	sends := sender.sent()
	if len(sends) != 1 || !strings.Contains(sends[0], "getting stuck") {
		t.Fatalf("fallback reply expected, got %v", sends)
	}
}

func TestEndSessionSentinel(t *testing.T) {
	g := &scriptedGateway{replies: []*llm.Reply{
		{Kind: llm.ReplyText, Content: "Noted. Talk later. #END_SESSION#"},
	}}
	p, s, sender, tracker := newTestPipeline(t, g)

	tracker.Touch("123", "Alice")
	if err := p.Process(context.Background(), item("123", "bye")); err != nil {
		t.Fatal(err)
	}

	sends := sender.sent()
	if len(sends) != 1 || strings.Contains(sends[0], EndSessionSentinel) {
		t.Fatalf("sentinel must be stripped: %v", sends)
	}
	if !strings.Contains(sends[0], "Noted. Talk later.") {
		t.Fatalf("reply text: %v", sends)
	}
	if conv, _ := s.ActiveConversation("123"); conv != nil {
		t.Fatalf("session should be completed immediately: %+v", conv)
	}
	if n, _ := s.PendingReports(); n != 1 {
		t.Fatalf("report rows: %d", n)
	}
}

func TestAllKeysExhaustedRequeuesSilentlyForNonOwner(t *testing.T) {
	g := &scriptedGateway{errs: []error{llm.ErrAllKeysExhausted}}
	p, _, sender, _ := newTestPipeline(t, g)

	err := p.Process(context.Background(), item("123", "hi"))
	var retryable *retryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("non-owner failure must be silent: %v", sender.sent())
	}
}

func TestAllKeysExhaustedNotifiesOwner(t *testing.T) {
	g := &scriptedGateway{errs: []error{llm.ErrAllKeysExhausted}}
	p, _, sender, _ := newTestPipeline(t, g)

	err := p.Process(context.Background(), item("4915100000000", "hi"))
	var retryable *retryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	sends := sender.sent()
	if len(sends) != 1 || !strings.Contains(sends[0], "Cannot reach") {
		t.Fatalf("owner must see the error: %v", sends)
	}
}

func TestSendFailureIsRetryable(t *testing.T) {
	g := &scriptedGateway{replies: []*llm.Reply{{Kind: llm.ReplyText, Content: "hello"}}}
	p, _, sender, _ := newTestPipeline(t, g)
	sender.fail = true

	err := p.Process(context.Background(), item("123", "hi"))
	var retryable *retryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("transport failure should requeue, got %v", err)
	}
}
