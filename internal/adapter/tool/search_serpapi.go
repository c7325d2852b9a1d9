package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"rand-agent/internal/domain"
)

// DefaultSerpAPIURL is the public SerpAPI endpoint.
const DefaultSerpAPIURL = "https://serpapi.com"

// serpTimeRanges maps time_range values to Google's tbs filter.
var serpTimeRanges = map[string]string{
	"hour": "qdr:h", "day": "qdr:d", "week": "qdr:w", "month": "qdr:m", "year": "qdr:y",
}

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}

// SerpAPIBackend runs Google searches through SerpAPI.
type SerpAPIBackend struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewSerpAPIBackend creates a backend. An empty baseURL uses
// DefaultSerpAPIURL and a nil client uses http.DefaultClient.
func NewSerpAPIBackend(client *http.Client, baseURL, apiKey string, logger *slog.Logger) *SerpAPIBackend {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultSerpAPIURL
	}
	return &SerpAPIBackend{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, logger: logger}
}

func (b *SerpAPIBackend) Name() string { return "serpapi" }

func (b *SerpAPIBackend) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	v := url.Values{}
	v.Set("engine", "google")
	v.Set("q", q.Query)
	v.Set("api_key", b.apiKey)
	if q.Count > 0 {
		v.Set("num", strconv.Itoa(q.Count))
	}
	if tbs := serpTimeRanges[q.TimeRange]; tbs != "" {
		v.Set("tbs", tbs)
	}
	if q.Country != "" {
		v.Set("gl", q.Country)
	}
	if q.Language != "" {
		v.Set("hl", q.Language)
	}

	body, err := fetch(ctx, b.client, b.baseURL+"/search?"+v.Encode(), "application/json", serpErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}

	var resp serpAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("serpapi: %w", &domain.ResponseError{Reason: "malformed JSON: " + err.Error()})
	}
	// SerpAPI reports "no results" through the error field of a 200 reply.
	if resp.Error != "" && len(resp.OrganicResults) == 0 {
		if strings.Contains(strings.ToLower(resp.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi: %w", &domain.ProviderError{Message: resp.Error})
	}

	results := make([]SearchResult, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Content: r.Snippet})
	}
	b.logger.Debug("serpapi search completed", "query", q.Query, "results", len(results))
	return results, nil
}

// serpErrorMessage pulls the error field out of a JSON error body.
func serpErrorMessage(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		return env.Error
	}
	return strings.TrimSpace(string(body))
}
