package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Fetcher retrieves a page as readable text. Open to every contact.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Searcher runs a web search and returns result lines.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// HTTPFetcher is the default Fetcher: plain GET with tag stripping.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 20 * time.Second}}
}

var tagRe = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return "", err
	}
	text := tagRe.ReplaceAllString(string(body), " ")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 4000 {
		text = text[:4000] + "..."
	}
	return text, nil
}

// NoSearcher is the stand-in when no search backend is configured.
type NoSearcher struct{}

func (NoSearcher) Search(context.Context, string, int) ([]string, error) {
	return nil, fmt.Errorf("web search not configured")
}

// BrowseURLTool fetches one page.
type BrowseURLTool struct {
	fetcher Fetcher
}

func NewBrowseURLTool(f Fetcher) *BrowseURLTool { return &BrowseURLTool{fetcher: f} }

func (t *BrowseURLTool) Name() string { return "browse_url" }

func (t *BrowseURLTool) Description() string {
	return "Fetch a web page and return its readable text."
}

func (t *BrowseURLTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"url": map[string]any{"type": "string", "description": "The http(s) URL to fetch"},
	}, "url")
}

func (t *BrowseURLTool) Execute(ctx context.Context, args map[string]any, _ Invocation) (string, error) {
	rawURL := GetString(args, "url", "")
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	return t.fetcher.Fetch(ctx, rawURL)
}

// SearchWebTool runs a web search.
type SearchWebTool struct {
	searcher Searcher
}

func NewSearchWebTool(s Searcher) *SearchWebTool { return &SearchWebTool{searcher: s} }

func (t *SearchWebTool) Name() string { return "search_web" }

func (t *SearchWebTool) Description() string {
	return "Search the web and return the top result lines."
}

func (t *SearchWebTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Search query"},
		"limit": map[string]any{"type": "integer", "description": "Max results (default 5)"},
	}, "query")
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]any, _ Invocation) (string, error) {
	query := GetString(args, "query", "")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	lines, err := t.searcher.Search(ctx, query, GetInt(args, "limit", 5))
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "no results", nil
	}
	return joinLines(lines), nil
}
