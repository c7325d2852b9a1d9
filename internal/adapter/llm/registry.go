package llm

import (
	"fmt"
	"log/slog"
	"sync"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

// Constructor builds a provider from a resolved ProviderConfig.
type Constructor func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error)

// Registration is a Constructor plus the base URL used when the agent
// config does not override it.
type Registration struct {
	BaseURL string
	New     Constructor
}

// Registry maps provider tags to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ProviderTag]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.ProviderTag]Registration)}
}

// Register adds a constructor for tag. Returns an error if tag is already
// registered.
func (r *Registry) Register(tag domain.ProviderTag, reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tag]; exists {
		return fmt.Errorf("provider %q already registered", tag)
	}
	r.entries[tag] = reg
	return nil
}

// Get retrieves the registration for tag.
func (r *Registry) Get(tag domain.ProviderTag) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[tag]
	if !ok {
		return Registration{}, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, string(tag))
	}
	return reg, nil
}

// Tags returns the registered tags in domain.ProviderTags order.
func (r *Registry) Tags() []domain.ProviderTag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]domain.ProviderTag, 0, len(r.entries))
	for _, tag := range domain.ProviderTags {
		if _, ok := r.entries[tag]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func openAICompatible(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	return NewOpenAIProvider(cfg, logger), nil
}

// openAICompatibleBaseURLs lists vendors served through OpenAIProvider.
var openAICompatibleBaseURLs = map[domain.ProviderTag]string{
	domain.ProviderOpenAI:      "https://api.openai.com/v1",
	domain.ProviderCohere:      "https://api.cohere.ai/compatibility/v1",
	domain.ProviderHuggingface: "https://router.huggingface.co/v1",
	domain.ProviderMistral:     "https://api.mistral.ai/v1",
	domain.ProviderTogether:    "https://api.together.xyz/v1",
	domain.ProviderXAI:         "https://api.x.ai/v1",
	domain.ProviderDeepSeek:    "https://api.deepseek.com/v1",
	domain.ProviderGaladriel:   "https://api.galadriel.com/v1/verified",
	domain.ProviderGroq:        "https://api.groq.com/openai/v1",
	domain.ProviderHyperbolic:  "https://api.hyperbolic.xyz/v1",
	domain.ProviderMira:        "https://api.mira.network/v1",
	domain.ProviderMoonshot:    "https://api.moonshot.cn/v1",
}

// DefaultRegistry registers every supported provider. Azure and Perplexity
// are not registered; Builder skips them with a warning.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, baseURL := range openAICompatibleBaseURLs {
		r.entries[tag] = Registration{BaseURL: baseURL, New: openAICompatible}
	}
	r.entries[domain.ProviderBigmodel] = Registration{
		BaseURL: BigmodelBaseURL,
		New: func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
			return NewBigmodelProvider(cfg, logger), nil
		},
	}
	r.entries[domain.ProviderAnthropic] = Registration{
		BaseURL: "https://api.anthropic.com",
		New: func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
			return NewAnthropicProvider(cfg, logger), nil
		},
	}
	r.entries[domain.ProviderGemini] = Registration{
		BaseURL: "https://generativelanguage.googleapis.com",
		New: func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
			return NewGeminiProvider(cfg, logger), nil
		},
	}
	r.entries[domain.ProviderOllama] = Registration{
		BaseURL: OllamaBaseURL,
		New: func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
			return NewOllamaProvider(cfg, logger), nil
		},
	}
	r.entries[domain.ProviderOpenRouter] = Registration{
		BaseURL: OpenRouterBaseURL,
		New: func(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
			return NewOpenRouterProvider(cfg, logger), nil
		},
	}
	return r
}
