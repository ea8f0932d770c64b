package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/attachebot/attache/internal/store"
)

// SystemStatus is a snapshot of the running pipeline, provided by the
// runtime at registration time.
type SystemStatus struct {
	QueueDepth     int    `json:"queue_depth"`
	WorkerCount    int    `json:"worker_count"`
	PendingReports int    `json:"pending_reports"`
	KeysAvailable  int    `json:"keys_available"`
	WhatsApp       string `json:"whatsapp"`
	Telegram       string `json:"telegram"`
}

// StatusFunc returns the current pipeline snapshot.
type StatusFunc func() SystemStatus

// GetSystemStatusTool reports pipeline health. Owner only.
type GetSystemStatusTool struct {
	status StatusFunc
}

func NewGetSystemStatusTool(status StatusFunc) *GetSystemStatusTool {
	return &GetSystemStatusTool{status: status}
}

func (t *GetSystemStatusTool) Name() string    { return "get_system_status" }
func (t *GetSystemStatusTool) OwnerOnly() bool { return true }

func (t *GetSystemStatusTool) Description() string {
	return "Report current system health: queue depth, worker count, transport states."
}

func (t *GetSystemStatusTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *GetSystemStatusTool) Execute(_ context.Context, _ map[string]any, _ Invocation) (string, error) {
	data, err := json.Marshal(t.status())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetAnalyticsTool reports queue metrics history. Owner only.
type GetAnalyticsTool struct {
	store *store.Store
}

func NewGetAnalyticsTool(s *store.Store) *GetAnalyticsTool {
	return &GetAnalyticsTool{store: s}
}

func (t *GetAnalyticsTool) Name() string    { return "get_analytics" }
func (t *GetAnalyticsTool) OwnerOnly() bool { return true }

func (t *GetAnalyticsTool) Description() string {
	return "Report message volume and recent queue metrics samples."
}

func (t *GetAnalyticsTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"samples": map[string]any{"type": "integer", "description": "Metric samples to include (default 10)"},
	})
}

func (t *GetAnalyticsTool) Execute(_ context.Context, args map[string]any, _ Invocation) (string, error) {
	total, users, agents, err := t.store.MessageStats()
	if err != nil {
		return "", err
	}
	metrics, err := t.store.RecentQueueMetrics(GetInt(args, "samples", 10))
	if err != nil {
		return "", err
	}
	out := map[string]any{
		"messages_total": total,
		"messages_user":  users,
		"messages_agent": agents,
		"queue_metrics":  metrics,
	}
	data, _ := json.Marshal(out)
	return string(data), nil
}

// GetCurrentTimeTool returns the current time. Open to every contact.
type GetCurrentTimeTool struct{}

func NewGetCurrentTimeTool() *GetCurrentTimeTool { return &GetCurrentTimeTool{} }

func (t *GetCurrentTimeTool) Name() string { return "get_current_time" }

func (t *GetCurrentTimeTool) Description() string {
	return "Return the current date and time."
}

func (t *GetCurrentTimeTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *GetCurrentTimeTool) Execute(_ context.Context, _ map[string]any, _ Invocation) (string, error) {
	now := time.Now()
	return now.Format("Monday, 2006-01-02 15:04 MST"), nil
}
