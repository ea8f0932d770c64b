package tools

import (
	"github.com/attachebot/attache/internal/store"
)

// Deps carries the collaborators the default toolset needs.
type Deps struct {
	Store    *store.Store
	Status   StatusFunc
	Calendar Calendar
	Fetcher  Fetcher
	Searcher Searcher
}

// NewDefaultRegistry registers the fixed tool surface.
func NewDefaultRegistry(d Deps) *Registry {
	if d.Calendar == nil {
		d.Calendar = NoCalendar{}
	}
	if d.Fetcher == nil {
		d.Fetcher = NewHTTPFetcher()
	}
	if d.Searcher == nil {
		d.Searcher = NoSearcher{}
	}
	if d.Status == nil {
		d.Status = func() SystemStatus { return SystemStatus{} }
	}

	r := NewRegistry()
	r.Register(NewUpdateContactInfoTool(d.Store))
	r.Register(NewCheckScheduleTool(d.Calendar))
	r.Register(NewCheckAvailabilityTool(d.Calendar))
	r.Register(NewScheduleMeetingTool(d.Calendar))
	r.Register(NewSearchMessagesTool(d.Store))
	r.Register(NewGetDailySummaryTool(d.Store))
	r.Register(NewSearchAllConversationsTool(d.Store))
	r.Register(NewGetRecentConversationsTool(d.Store))
	r.Register(NewGetSystemStatusTool(d.Status))
	r.Register(NewGetAnalyticsTool(d.Store))
	r.Register(NewGetCurrentTimeTool())
	r.Register(NewBrowseURLTool(d.Fetcher))
	r.Register(NewSearchWebTool(d.Searcher))
	return r
}
