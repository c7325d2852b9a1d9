package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/tracer"
)

// GitHubTrendingToolName is the name models call the trending tool by.
const GitHubTrendingToolName = "github_trending"

// DefaultGitHubURL is where the trending pages are scraped from.
const DefaultGitHubURL = "https://github.com"

const (
	defaultTrendingLimit    = 10
	maxTrendingLimit        = 25
	defaultTrendingCacheTTL = time.Hour
)

var validSince = map[string]bool{"daily": true, "weekly": true, "monthly": true}

// TrendingRepo is one row of the repositories page.
type TrendingRepo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	PeriodStars int    `json:"period_stars"`
}

// TrendingDeveloper is one row of the developers page.
type TrendingDeveloper struct {
	Name        string `json:"name"`
	Login       string `json:"login"`
	URL         string `json:"url"`
	PopularRepo string `json:"popular_repo,omitempty"`
	RepoURL     string `json:"repo_url,omitempty"`
}

// GitHubTrendingTool scrapes github.com/trending.
type GitHubTrendingTool struct {
	client  *http.Client
	baseURL string
	cache   *resultCache[[]*html.Node]
	logger  *slog.Logger
}

// NewGitHubTrendingTool creates the tool. An empty baseURL uses
// DefaultGitHubURL, a nil client uses http.DefaultClient and a
// non-positive ttl caches pages for an hour.
func NewGitHubTrendingTool(client *http.Client, baseURL string, ttl time.Duration, logger *slog.Logger) *GitHubTrendingTool {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultGitHubURL
	}
	if ttl <= 0 {
		ttl = defaultTrendingCacheTTL
	}
	return &GitHubTrendingTool{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   newResultCache[[]*html.Node](ttl),
		logger:  logger,
	}
}

func (t *GitHubTrendingTool) Name() string { return GitHubTrendingToolName }
func (t *GitHubTrendingTool) Description() string {
	return "Lists repositories or developers trending on GitHub today, this week or this month, " +
		"optionally filtered by programming language."
}

func (t *GitHubTrendingTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["repositories", "developers"], "description": "repositories (default) or developers"},
				"language": {"type": "string", "description": "Programming language slug such as go, python or rust"},
				"since": {"type": "string", "enum": ["daily", "weekly", "monthly"], "description": "Trending window (default daily)"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 25, "description": "Maximum rows (default 10)"}
			},
			"additionalProperties": false
		}`),
	}
}

type trendingParams struct {
	Action   string `json:"action"`
	Language string `json:"language"`
	Since    string `json:"since"`
	Limit    int    `json:"limit"`
}

func (t *GitHubTrendingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, GitHubTrendingToolName, t.logger, params, Dispatch(Actions[trendingParams]{
		Field:   func(p trendingParams) string { return p.Action },
		Default: "repositories",
		Table: map[string]Handler[trendingParams]{
			"repositories": t.handleRepositories,
			"developers":   t.handleDevelopers,
		},
	}))
}

func (t *GitHubTrendingTool) handleRepositories(ctx context.Context, p trendingParams) (any, error) {
	rows, err := t.rows(ctx, "/trending", p)
	if err != nil {
		return nil, err
	}
	repos := make([]TrendingRepo, 0, len(rows))
	for _, row := range rows {
		if r, ok := t.parseRepo(row); ok {
			repos = append(repos, r)
		}
	}
	return repos, nil
}

func (t *GitHubTrendingTool) handleDevelopers(ctx context.Context, p trendingParams) (any, error) {
	rows, err := t.rows(ctx, "/trending/developers", p)
	if err != nil {
		return nil, err
	}
	devs := make([]TrendingDeveloper, 0, len(rows))
	for _, row := range rows {
		if d, ok := t.parseDeveloper(row); ok {
			devs = append(devs, d)
		}
	}
	return devs, nil
}

// rows fetches (or reuses) a trending page and returns up to limit
// article.Box-row nodes.
func (t *GitHubTrendingTool) rows(ctx context.Context, page string, p trendingParams) ([]*html.Node, error) {
	since := p.Since
	if since == "" {
		since = "daily"
	}
	if !validSince[since] {
		return nil, fmt.Errorf("%w: since must be daily, weekly or monthly, got %q", domain.ErrInvalidInput, p.Since)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultTrendingLimit
	}
	limit = min(limit, maxTrendingLimit)

	if lang := strings.ToLower(strings.TrimSpace(p.Language)); lang != "" {
		page += "/" + url.PathEscape(lang)
	}
	target := t.baseURL + page + "?since=" + since
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(tracer.StringAttr("tool.url", target))

	rows, ok := t.cache.get(target)
	if ok {
		span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
	} else {
		body, err := fetch(ctx, t.client, target, "text/html", nil)
		if err != nil {
			return nil, fmt.Errorf("github trending: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("github trending: %w", &domain.ResponseError{Reason: "unparseable page: " + err.Error()})
		}
		rows = findAll(doc, func(n *html.Node) bool { return n.Data == "article" && hasClass(n, "Box-row") })
		t.cache.put(target, rows)
		t.logger.Debug("github trending fetched", "url", target, "rows", len(rows))
	}
	span.SetAttributes(tracer.IntAttr("tool.rows", len(rows)))
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (t *GitHubTrendingTool) parseRepo(row *html.Node) (TrendingRepo, bool) {
	link := find(row, func(n *html.Node) bool { return n.Data == "a" && parentIs(n, "h2") })
	if link == nil {
		return TrendingRepo{}, false
	}
	href := attr(link, "href")
	r := TrendingRepo{
		Name: strings.Join(strings.Fields(textOf(link)), ""),
		URL:  t.baseURL + href,
	}
	if p := find(row, func(n *html.Node) bool { return n.Data == "p" && hasClass(n, "col-9") }); p != nil {
		r.Description = collapse(textOf(p))
	}
	if s := find(row, func(n *html.Node) bool { return attr(n, "itemprop") == "programmingLanguage" }); s != nil {
		r.Language = collapse(textOf(s))
	}
	if a := find(row, func(n *html.Node) bool { return n.Data == "a" && strings.HasSuffix(attr(n, "href"), "/stargazers") }); a != nil {
		r.Stars = parseCount(textOf(a))
	}
	if a := find(row, func(n *html.Node) bool { return n.Data == "a" && strings.HasSuffix(attr(n, "href"), "/forks") }); a != nil {
		r.Forks = parseCount(textOf(a))
	}
	if s := find(row, func(n *html.Node) bool { return n.Data == "span" && hasClass(n, "float-sm-right") }); s != nil {
		r.PeriodStars = parseCount(textOf(s))
	}
	return r, true
}

func (t *GitHubTrendingTool) parseDeveloper(row *html.Node) (TrendingDeveloper, bool) {
	name := find(row, func(n *html.Node) bool { return n.Data == "a" && parentIs(n, "h1") && hasClass(n.Parent, "h3") })
	if name == nil {
		return TrendingDeveloper{}, false
	}
	href := attr(name, "href")
	d := TrendingDeveloper{
		Name:  collapse(textOf(name)),
		Login: strings.Trim(href, "/"),
		URL:   t.baseURL + href,
	}
	if a := find(row, func(n *html.Node) bool { return n.Data == "a" && parentIs(n, "h1") && hasClass(n.Parent, "h4") }); a != nil {
		d.PopularRepo = collapse(textOf(a))
		d.RepoURL = t.baseURL + attr(a, "href")
	}
	return d, true
}

func find(root *html.Node, match func(*html.Node) bool) *html.Node {
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && match(n) {
			return n
		}
	}
	return nil
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	return n != nil && n.Type == html.ElementNode && slices.Contains(strings.Fields(attr(n, "class")), class)
}

func parentIs(n *html.Node, tag string) bool {
	return n.Parent != nil && n.Parent.Type == html.ElementNode && n.Parent.Data == tag
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
		}
	}
	return sb.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// parseCount reads the leading number of "1,234" or "56 stars today".
func parseCount(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0
	}
	return n
}
