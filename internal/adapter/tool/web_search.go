package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/tracer"
)

// WebSearchToolName is the name models call the search tool by.
const WebSearchToolName = "web_search"

const (
	defaultSearchCount    = 5
	maxSearchCount        = 20
	defaultSearchCacheTTL = 15 * time.Minute
)

// SearchBackend is a web search engine.
type SearchBackend interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	Name() string
}

// SearchQuery is one normalised search request.
type SearchQuery struct {
	Query     string
	Count     int
	TimeRange string // hour, day, week, month, year or empty
	Country   string // two-letter country code
	Language  string // two-letter language code
}

func (q SearchQuery) key() string {
	return strings.Join([]string{q.Query, fmt.Sprint(q.Count), q.TimeRange, q.Country, q.Language}, "|")
}

// SearchResult is a single organic hit.
type SearchResult struct {
	Title   string
	URL     string
	Content string
}

// WebSearchTool answers web_search calls through a SearchBackend and keeps
// formatted replies for the cache TTL.
type WebSearchTool struct {
	backend SearchBackend
	cache   *resultCache[string]
	logger  *slog.Logger
}

// NewWebSearchTool creates the tool. A non-positive ttl uses 15 minutes.
func NewWebSearchTool(backend SearchBackend, ttl time.Duration, logger *slog.Logger) *WebSearchTool {
	if ttl <= 0 {
		ttl = defaultSearchCacheTTL
	}
	return &WebSearchTool{backend: backend, cache: newResultCache[string](ttl), logger: logger}
}

func (t *WebSearchTool) Name() string { return WebSearchToolName }
func (t *WebSearchTool) Description() string {
	return "Searches the web and returns the top organic results with title, URL and snippet. " +
		"Use it for recent events or facts you are unsure about."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default 5)"},
				"time_range": {"type": "string", "enum": ["hour", "day", "week", "month", "year"], "description": "Only results from the past hour, day, week, month or year"},
				"country": {"type": "string", "description": "Two-letter country code such as us or cn"},
				"language": {"type": "string", "description": "Two-letter interface language such as en or zh-cn"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
}

type webSearchParams struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	TimeRange string `json:"time_range"`
	Country   string `json:"country"`
	Language  string `json:"language"`
}

var validTimeRanges = map[string]bool{"": true, "hour": true, "day": true, "week": true, "month": true, "year": true}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, WebSearchToolName, t.logger, params, t.search)
}

func (t *WebSearchTool) search(ctx context.Context, p webSearchParams) (any, error) {
	q := SearchQuery{
		Query:     strings.TrimSpace(p.Query),
		Count:     min(max(p.Count, 0), maxSearchCount),
		TimeRange: p.TimeRange,
		Country:   strings.ToLower(p.Country),
		Language:  strings.ToLower(p.Language),
	}
	if q.Query == "" {
		return Failf("'query' must not be empty")
	}
	if q.Count == 0 {
		q.Count = defaultSearchCount
	}
	if !validTimeRanges[q.TimeRange] {
		return Failf("invalid time_range %q (want hour, day, week, month or year)", q.TimeRange)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(tracer.StringAttr("tool.query", q.Query), tracer.StringAttr("tool.backend", t.backend.Name()))

	if cached, ok := t.cache.get(q.key()); ok {
		span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
		t.logger.Debug("web search cache hit", "query", q.Query)
		return cached, nil
	}

	results, err := t.backend.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) > q.Count {
		results = results[:q.Count]
	}
	out := formatSearchResults(q.Query, results)
	t.cache.put(q.key(), out)
	t.logger.Debug("web search completed", "query", q.Query, "backend", t.backend.Name(), "results", len(results))
	return out, nil
}

func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   URL: %s\n", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Content)
		}
	}
	return sb.String()
}
