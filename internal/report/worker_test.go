package report

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
)

type fakeGateway struct {
	analysis  *llm.Analysis
	report    string
	reportErr error
	keys      *llm.KeyPool
}

func (f *fakeGateway) AnalyzeConversation(context.Context, []store.MessageLog) (*llm.Analysis, error) {
	if f.analysis == nil {
		return &llm.Analysis{Urgency: 5, Status: "active"}, nil
	}
	return f.analysis, nil
}

func (f *fakeGateway) GenerateReport(context.Context, []store.MessageLog, string) (string, error) {
	return f.report, f.reportErr
}

func (f *fakeGateway) KeyPool() *llm.KeyPool {
	if f.keys == nil {
		f.keys = llm.NewKeyPool([]string{"k"})
	}
	return f.keys
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) NotifyOwner(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func fixture(t *testing.T, g Gateway, n Notifier) (*Worker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "report.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cfg := config.DefaultConfig()
	cfg.Owner.Address = "owner"
	return New(cfg, s, g, n), s
}

// seedSession creates a completed conversation with logs and its report row.
func seedSession(t *testing.T, s *store.Store) *store.Conversation {
	t.Helper()
	conv, err := s.EnsureActiveConversation("123")
	if err != nil {
		t.Fatal(err)
	}
	_ = s.AppendMessage("123", store.RoleUser, "hi im Alice, what time do you open?", "text", "whatsapp")
	_ = s.AppendMessage("123", store.RoleAgent, "We open at nine.", "text", "whatsapp")
	if err := s.CompleteConversation(conv.ID); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if _, err := s.EnqueueReport("123", "Alice", conv.ID, &now); err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestReportDeliveredAndAnnotated(t *testing.T) {
	g := &fakeGateway{
		analysis: &llm.Analysis{Urgency: 3, Status: "completed", Summary: "opening hours question"},
		report:   "Alice asked about opening hours; no follow-up needed.",
	}
	n := &fakeNotifier{}
	w, s := fixture(t, g, n)
	conv := seedSession(t, s)

	processed, err := w.ProcessOne(context.Background())
	if err != nil || !processed {
		t.Fatalf("process: %v %v", processed, err)
	}

	if len(n.messages) != 1 || !strings.Contains(n.messages[0], "Alice") {
		t.Fatalf("owner message: %v", n.messages)
	}
	got, _ := s.GetConversation(conv.ID)
	if got.Urgency == nil || *got.Urgency != 3 || got.Summary == "" {
		t.Fatalf("annotation: %+v", got)
	}
	if pending, _ := s.PendingReports(); pending != 0 {
		t.Fatalf("pending after delivery: %d", pending)
	}
}

func TestKeysExhaustedRequeuesAfterCooldown(t *testing.T) {
	g := &fakeGateway{report: "", reportErr: llm.ErrAllKeysExhausted}
	g.keys = llm.NewKeyPool([]string{"k"})
	g.keys.PenalizeRateLimit("k", 30*time.Second)
	n := &fakeNotifier{}
	w, s := fixture(t, g, n)
	seedSession(t, s)

	processed, err := w.ProcessOne(context.Background())
	if err != nil || !processed {
		t.Fatalf("process: %v %v", processed, err)
	}

	// The row is pending again but invisible until the key cooldown ends.
	if item, _ := s.LeaseReport(); item != nil {
		t.Fatalf("report should not be leasable before cooldown: %+v", item)
	}
	if pending, _ := s.PendingReports(); pending != 1 {
		t.Fatalf("pending: %d", pending)
	}
}

func TestDeliveryFailureRetries(t *testing.T) {
	g := &fakeGateway{report: "summary text"}
	n := &fakeNotifier{err: errors.New("both transports down")}
	w, s := fixture(t, g, n)
	seedSession(t, s)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pending, _ := s.PendingReports(); pending != 1 {
		t.Fatalf("failed delivery must stay pending: %d", pending)
	}
}

func TestEmptySessionSettlesQuietly(t *testing.T) {
	g := &fakeGateway{report: "unused"}
	n := &fakeNotifier{}
	w, s := fixture(t, g, n)

	conv, _ := s.EnsureActiveConversation("999")
	_ = s.CompleteConversation(conv.ID)
	if _, err := s.EnqueueReport("999", "", conv.ID, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(n.messages) != 0 {
		t.Fatalf("no report expected for empty session: %v", n.messages)
	}
	if pending, _ := s.PendingReports(); pending != 0 {
		t.Fatalf("pending: %d", pending)
	}
}
