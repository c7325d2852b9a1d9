package llm

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

// Builder turns agent configs into dispatcher-ready agents. A config that
// cannot be built is logged and skipped; it never fails the whole batch.
type Builder struct {
	registry *Registry
	http     config.HTTPConfig
	breaker  config.CircuitBreakerConfig
	tools    domain.ToolExecutor
	getenv   func(string) string
	logger   *slog.Logger
}

// NewBuilder creates a Builder over DefaultRegistry.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		registry: DefaultRegistry(),
		getenv:   os.Getenv,
		logger:   logger,
	}
}

// WithRegistry replaces the provider registry.
func (b *Builder) WithRegistry(r *Registry) *Builder {
	b.registry = r
	return b
}

// WithHTTP sets the transport timeouts and pool sizing shared by all agents.
func (b *Builder) WithHTTP(cfg config.HTTPConfig) *Builder {
	b.http = cfg
	return b
}

// WithCircuitBreaker wraps every provider in a breaker when cfg.Enabled.
func (b *Builder) WithCircuitBreaker(cfg config.CircuitBreakerConfig) *Builder {
	b.breaker = cfg
	return b
}

// WithTools sets the registry agent tool names are resolved against.
func (b *Builder) WithTools(tools domain.ToolExecutor) *Builder {
	b.tools = tools
	return b
}

// WithGetenv replaces the environment lookup used for API key fallback.
func (b *Builder) WithGetenv(fn func(string) string) *Builder {
	b.getenv = fn
	return b
}

// Build constructs one agent per usable config, in input order.
// defaultSystemPrompt applies to configs without their own.
func (b *Builder) Build(configs []domain.AgentConfig, defaultSystemPrompt string) []domain.BuiltAgent {
	out := make([]domain.BuiltAgent, 0, len(configs))
	for _, cfg := range configs {
		built, err := b.BuildOne(cfg, defaultSystemPrompt)
		if err != nil {
			b.logger.Warn("skipping agent",
				"agent_id", cfg.ID,
				"provider", string(cfg.Provider),
				"model", cfg.ModelName,
				"error", err,
			)
			continue
		}
		out = append(out, built)
	}
	b.logger.Info("agents built", "configured", len(configs), "built", len(out))
	return out
}

// BuildOne constructs a single agent.
func (b *Builder) BuildOne(cfg domain.AgentConfig, defaultSystemPrompt string) (domain.BuiltAgent, error) {
	tag, ok := domain.ParseProviderTag(string(cfg.Provider))
	if !ok {
		return domain.BuiltAgent{}, domain.NewDomainError("Builder.Build", domain.ErrUnsupportedProvider, string(cfg.Provider))
	}

	reg, err := b.registry.Get(tag)
	if err != nil {
		return domain.BuiltAgent{}, domain.NewDomainError("Builder.Build", domain.ErrUnsupportedProvider, string(tag))
	}

	baseURL := reg.BaseURL
	if cfg.APIBaseURL != "" {
		if err := checkBaseURL(cfg.APIBaseURL); err != nil {
			return domain.BuiltAgent{}, domain.WrapOp("Builder.Build", err)
		}
		baseURL = cfg.APIBaseURL
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = b.getenv(tag.EnvKey())
	}
	if apiKey == "" && tag != domain.ProviderOllama {
		b.logger.Warn("no api key configured", "agent_id", cfg.ID, "provider", string(tag), "env", tag.EnvKey())
	}

	provider, err := reg.New(config.ProviderConfig{
		Name:        string(tag),
		Type:        string(tag),
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       cfg.ModelName,
		ConnTimeout: b.http.ConnTimeout,
		RespTimeout: b.http.RespTimeout,
		Pool:        b.http.Pool,
	}, b.logger)
	if err != nil {
		return domain.BuiltAgent{}, domain.WrapOp("Builder.Build", err)
	}

	if b.breaker.Enabled {
		provider = NewCircuitBreakerProvider(provider, b.breaker, b.logger)
	}
	provider = NewRateLimitedProvider(provider, cfg.RequestsPerMinute)

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	name := cfg.AgentName
	if name == "" {
		name = domain.DefaultAgentName
	}

	agent := NewChatAgent(provider, ChatAgentConfig{
		Name:         name,
		Model:        cfg.ModelName,
		SystemPrompt: systemPrompt,
		Temperature:  cfg.Temperature,
		Tools:        b.resolveTools(cfg),
		MaxTurns:     cfg.MaxTurns,
	}, b.logger)

	return domain.BuiltAgent{
		ID:          cfg.ID,
		Provider:    string(tag),
		Model:       cfg.ModelName,
		Name:        name,
		MaxFailures: cfg.MaxFailures,
		Agent:       agent,
	}, nil
}

// resolveTools looks up the agent's tool names. Unknown names are logged
// and dropped.
func (b *Builder) resolveTools(cfg domain.AgentConfig) []domain.Tool {
	if len(cfg.Tools) == 0 {
		return nil
	}
	if b.tools == nil {
		b.logger.Warn("agent lists tools but no tool registry is configured", "agent_id", cfg.ID)
		return nil
	}
	tools := make([]domain.Tool, 0, len(cfg.Tools))
	for _, name := range cfg.Tools {
		t, err := b.tools.Get(name)
		if err != nil {
			b.logger.Warn("unknown tool", "agent_id", cfg.ID, "tool", name, "error", err)
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// checkBaseURL rejects override URLs that are not absolute http(s) URLs.
func checkBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: base url %q: %v", domain.ErrInvalidInput, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be an absolute http(s) URL", domain.ErrInvalidInput, raw)
	}
	return nil
}
