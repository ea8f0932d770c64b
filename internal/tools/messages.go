package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attachebot/attache/internal/store"
)

// SearchMessagesTool searches one contact's log. Owner only.
type SearchMessagesTool struct {
	store *store.Store
}

func NewSearchMessagesTool(s *store.Store) *SearchMessagesTool { return &SearchMessagesTool{store: s} }

func (t *SearchMessagesTool) Name() string    { return "search_messages" }
func (t *SearchMessagesTool) OwnerOnly() bool { return true }

func (t *SearchMessagesTool) Description() string {
	return "Search the message history of one contact for a text fragment."
}

func (t *SearchMessagesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"address": map[string]any{"type": "string", "description": "Contact address (digits-only phone or chat id)"},
		"query":   map[string]any{"type": "string", "description": "Text to search for"},
		"limit":   map[string]any{"type": "integer", "description": "Max results (default 10)"},
	}, "address", "query")
}

func (t *SearchMessagesTool) Execute(_ context.Context, args map[string]any, _ Invocation) (string, error) {
	address := GetString(args, "address", "")
	query := GetString(args, "query", "")
	if address == "" || query == "" {
		return "", fmt.Errorf("address and query are required")
	}
	logs, err := t.store.SearchMessages(address, query, GetInt(args, "limit", 10))
	if err != nil {
		return "", err
	}
	return renderLogs(logs), nil
}

// SearchAllConversationsTool searches every contact's log. Owner only.
type SearchAllConversationsTool struct {
	store *store.Store
}

func NewSearchAllConversationsTool(s *store.Store) *SearchAllConversationsTool {
	return &SearchAllConversationsTool{store: s}
}

func (t *SearchAllConversationsTool) Name() string    { return "search_all_conversations" }
func (t *SearchAllConversationsTool) OwnerOnly() bool { return true }

func (t *SearchAllConversationsTool) Description() string {
	return "Search the message history of all contacts for a text fragment."
}

func (t *SearchAllConversationsTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Text to search for"},
		"limit": map[string]any{"type": "integer", "description": "Max results (default 10)"},
	}, "query")
}

func (t *SearchAllConversationsTool) Execute(_ context.Context, args map[string]any, _ Invocation) (string, error) {
	query := GetString(args, "query", "")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	logs, err := t.store.SearchAllMessages(query, GetInt(args, "limit", 10))
	if err != nil {
		return "", err
	}
	return renderLogs(logs), nil
}

// GetRecentConversationsTool lists who wrote recently. Owner only.
type GetRecentConversationsTool struct {
	store *store.Store
}

func NewGetRecentConversationsTool(s *store.Store) *GetRecentConversationsTool {
	return &GetRecentConversationsTool{store: s}
}

func (t *GetRecentConversationsTool) Name() string    { return "get_recent_conversations" }
func (t *GetRecentConversationsTool) OwnerOnly() bool { return true }

func (t *GetRecentConversationsTool) Description() string {
	return "List the most recently active contacts with their last-seen times."
}

func (t *GetRecentConversationsTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"limit": map[string]any{"type": "integer", "description": "Max contacts (default 10)"},
	})
}

func (t *GetRecentConversationsTool) Execute(_ context.Context, args map[string]any, _ Invocation) (string, error) {
	contacts, err := t.store.ListContacts(GetInt(args, "limit", 10))
	if err != nil {
		return "", err
	}
	type entry struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		LastSeen string `json:"last_seen"`
	}
	out := make([]entry, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, entry{
			Name:     c.BestName(),
			Address:  c.Phone,
			LastSeen: c.LastSeenAt.Format(time.RFC3339),
		})
	}
	data, _ := json.Marshal(out)
	return string(data), nil
}

// GetDailySummaryTool summarizes today's traffic. Owner only.
type GetDailySummaryTool struct {
	store *store.Store
}

func NewGetDailySummaryTool(s *store.Store) *GetDailySummaryTool {
	return &GetDailySummaryTool{store: s}
}

func (t *GetDailySummaryTool) Name() string    { return "get_daily_summary" }
func (t *GetDailySummaryTool) OwnerOnly() bool { return true }

func (t *GetDailySummaryTool) Description() string {
	return "Summarize today's message traffic: total messages and inbound counts per contact."
}

func (t *GetDailySummaryTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *GetDailySummaryTool) Execute(_ context.Context, _ map[string]any, _ Invocation) (string, error) {
	midnight := time.Now().Truncate(24 * time.Hour)
	logs, err := t.store.MessagesSince(midnight, 500)
	if err != nil {
		return "", err
	}
	perContact := map[string]int{}
	for _, l := range logs {
		if l.Role == store.RoleUser {
			perContact[l.ContactPhone]++
		}
	}
	summary := map[string]any{
		"total_messages":    len(logs),
		"inbound_by_contact": perContact,
	}
	data, _ := json.Marshal(summary)
	return string(data), nil
}

func renderLogs(logs []store.MessageLog) string {
	if len(logs) == 0 {
		return "no matches"
	}
	type entry struct {
		Address string `json:"address"`
		Role    string `json:"role"`
		Content string `json:"content"`
		At      string `json:"at"`
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{
			Address: l.ContactPhone,
			Role:    l.Role,
			Content: l.Content,
			At:      l.CreatedAt.Format(time.RFC3339),
		})
	}
	data, _ := json.Marshal(out)
	return string(data)
}
