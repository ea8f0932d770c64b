package tools

import (
	"context"
	"fmt"
	"time"
)

// Calendar is the external scheduling collaborator. The default
// implementation reports that no calendar is configured; a backend can be
// supplied through Deps.Calendar.
type Calendar interface {
	// Events lists events on a day as human-readable lines.
	Events(ctx context.Context, day time.Time) ([]string, error)
	// FreeSlots lists free ranges on a day as human-readable lines.
	FreeSlots(ctx context.Context, day time.Time) ([]string, error)
	// Schedule books a meeting and returns a confirmation line.
	Schedule(ctx context.Context, title string, start time.Time, minutes int) (string, error)
}

// NoCalendar is the stand-in when no calendar backend is configured.
type NoCalendar struct{}

func (NoCalendar) Events(context.Context, time.Time) ([]string, error) {
	return nil, fmt.Errorf("calendar not configured")
}
func (NoCalendar) FreeSlots(context.Context, time.Time) ([]string, error) {
	return nil, fmt.Errorf("calendar not configured")
}
func (NoCalendar) Schedule(context.Context, string, time.Time, int) (string, error) {
	return "", fmt.Errorf("calendar not configured")
}

func parseDay(args map[string]any) time.Time {
	if s := GetString(args, "date", ""); s != "" {
		if d, err := time.Parse("2006-01-02", s); err == nil {
			return d
		}
	}
	return time.Now()
}

// CheckScheduleTool lists the owner's events for a day. Owner only.
type CheckScheduleTool struct {
	cal Calendar
}

func NewCheckScheduleTool(cal Calendar) *CheckScheduleTool { return &CheckScheduleTool{cal: cal} }

func (t *CheckScheduleTool) Name() string    { return "check_schedule" }
func (t *CheckScheduleTool) OwnerOnly() bool { return true }

func (t *CheckScheduleTool) Description() string {
	return "List the owner's calendar events for a day."
}

func (t *CheckScheduleTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"date": map[string]any{"type": "string", "description": "Day as YYYY-MM-DD (default today)"},
	})
}

func (t *CheckScheduleTool) Execute(ctx context.Context, args map[string]any, _ Invocation) (string, error) {
	events, err := t.cal.Events(ctx, parseDay(args))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "no events", nil
	}
	return joinLines(events), nil
}

// CheckAvailabilityTool lists free slots. Open to every contact so visitors
// can ask when the owner is reachable.
type CheckAvailabilityTool struct {
	cal Calendar
}

func NewCheckAvailabilityTool(cal Calendar) *CheckAvailabilityTool {
	return &CheckAvailabilityTool{cal: cal}
}

func (t *CheckAvailabilityTool) Name() string { return "check_availability" }

func (t *CheckAvailabilityTool) Description() string {
	return "List free time ranges on the owner's calendar for a day."
}

func (t *CheckAvailabilityTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"date": map[string]any{"type": "string", "description": "Day as YYYY-MM-DD (default today)"},
	})
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, args map[string]any, _ Invocation) (string, error) {
	slots, err := t.cal.FreeSlots(ctx, parseDay(args))
	if err != nil {
		return "", err
	}
	if len(slots) == 0 {
		return "no free slots", nil
	}
	return joinLines(slots), nil
}

// ScheduleMeetingTool books a meeting. Owner only.
type ScheduleMeetingTool struct {
	cal Calendar
}

func NewScheduleMeetingTool(cal Calendar) *ScheduleMeetingTool {
	return &ScheduleMeetingTool{cal: cal}
}

func (t *ScheduleMeetingTool) Name() string    { return "schedule_meeting" }
func (t *ScheduleMeetingTool) OwnerOnly() bool { return true }

func (t *ScheduleMeetingTool) Description() string {
	return "Book a meeting on the owner's calendar."
}

func (t *ScheduleMeetingTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"title":   map[string]any{"type": "string", "description": "Meeting title"},
		"start":   map[string]any{"type": "string", "description": "Start as RFC3339 or YYYY-MM-DD HH:MM"},
		"minutes": map[string]any{"type": "integer", "description": "Duration in minutes (default 30)"},
	}, "title", "start")
}

func (t *ScheduleMeetingTool) Execute(ctx context.Context, args map[string]any, _ Invocation) (string, error) {
	title := GetString(args, "title", "")
	startRaw := GetString(args, "start", "")
	if title == "" || startRaw == "" {
		return "", fmt.Errorf("title and start are required")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		start, err = time.ParseInLocation("2006-01-02 15:04", startRaw, time.Local)
		if err != nil {
			return "", fmt.Errorf("unparseable start time %q", startRaw)
		}
	}
	return t.cal.Schedule(ctx, title, start, GetInt(args, "minutes", 30))
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
