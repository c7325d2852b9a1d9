package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

// OpenRouterBaseURL is the default OpenRouter API root.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Attribution headers sent with every OpenRouter request.
const (
	openrouterReferer = "https://github.com/rand-agent/rand-agent"
	openrouterTitle   = "rand-agent"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*OpenRouterProvider)(nil)
	_ domain.StreamingLLMProvider = (*OpenRouterProvider)(nil)
)

// openrouterTransport injects the OpenRouter attribution headers
// (HTTP-Referer and X-Title) into every request.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", openrouterReferer)
	clone.Header.Set("X-Title", openrouterTitle)
	return t.base.RoundTrip(clone)
}

// OpenRouterProvider wraps OpenAIProvider to work with the OpenRouter API.
type OpenRouterProvider struct {
	inner *OpenAIProvider
}

// NewOpenRouterProvider creates an OpenRouter provider that delegates to
// OpenAIProvider through a header-injecting transport.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenRouterProvider {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{base: client.Transport}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}

	return &OpenRouterProvider{
		inner: &OpenAIProvider{
			name:    cfg.Name,
			model:   cfg.Model,
			apiKey:  cfg.APIKey,
			baseURL: baseURL,
			client:  client,
			logger:  logger,
		},
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenRouterProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return p.inner.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *OpenRouterProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return p.inner.ChatStream(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *OpenRouterProvider) Name() string { return p.inner.Name() }

// OpenRouterModel is one entry of the OpenRouter model catalogue.
type OpenRouterModel struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	ContextLength int64             `json:"context_length"`
	Created       int64             `json:"created"`
	Pricing       OpenRouterPricing `json:"pricing"`
	Architecture  struct {
		InputModalities  []string `json:"input_modalities"`
		OutputModalities []string `json:"output_modalities"`
	} `json:"architecture"`
}

// OpenRouterPricing holds per-token prices as decimal strings.
type OpenRouterPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Free reports whether both prompt and completion tokens cost nothing.
func (m OpenRouterModel) Free() bool {
	return isZeroPrice(m.Pricing.Prompt) && isZeroPrice(m.Pricing.Completion)
}

func isZeroPrice(s string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && v == 0
}

// FetchOpenRouterModels lists the OpenRouter catalogue sorted by id. An
// empty baseURL uses OpenRouterBaseURL; client may be nil.
func FetchOpenRouterModels(ctx context.Context, client *http.Client, baseURL string) ([]OpenRouterModel, error) {
	if client == nil {
		client = NewHTTPClient(config.ProviderConfig{})
	}
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}

	body, err := doGetJSON(ctx, client, joinURL(baseURL, "models"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch openrouter models: %w", err)
	}

	var resp struct {
		Data []OpenRouterModel `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.ResponseError{Reason: fmt.Sprintf("decode model list: %v", err)}
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].ID < resp.Data[j].ID })
	return resp.Data, nil
}
