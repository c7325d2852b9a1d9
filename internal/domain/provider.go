package domain

import (
	"context"
	"strings"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "bigmodel").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// ProviderTag names the vendor or runtime behind an agent.
type ProviderTag string

const (
	ProviderAnthropic   ProviderTag = "anthropic"
	ProviderCohere      ProviderTag = "cohere"
	ProviderGemini      ProviderTag = "gemini"
	ProviderHuggingface ProviderTag = "huggingface"
	ProviderMistral     ProviderTag = "mistral"
	ProviderOpenAI      ProviderTag = "openai"
	ProviderOpenRouter  ProviderTag = "openrouter"
	ProviderTogether    ProviderTag = "together"
	ProviderXAI         ProviderTag = "xai"
	ProviderAzure       ProviderTag = "azure"
	ProviderDeepSeek    ProviderTag = "deepseek"
	ProviderGaladriel   ProviderTag = "galadriel"
	ProviderGroq        ProviderTag = "groq"
	ProviderHyperbolic  ProviderTag = "hyperbolic"
	ProviderMira        ProviderTag = "mira"
	ProviderMoonshot    ProviderTag = "moonshot"
	ProviderOllama      ProviderTag = "ollama"
	ProviderPerplexity  ProviderTag = "perplexity"
	ProviderBigmodel    ProviderTag = "bigmodel"
)

// ProviderTags lists every recognised tag.
var ProviderTags = []ProviderTag{
	ProviderAnthropic, ProviderCohere, ProviderGemini, ProviderHuggingface,
	ProviderMistral, ProviderOpenAI, ProviderOpenRouter, ProviderTogether,
	ProviderXAI, ProviderAzure, ProviderDeepSeek, ProviderGaladriel,
	ProviderGroq, ProviderHyperbolic, ProviderMira, ProviderMoonshot,
	ProviderOllama, ProviderPerplexity, ProviderBigmodel,
}

// ParseProviderTag maps a case-insensitive name onto a known tag.
// "mooshot" is accepted as a legacy spelling of moonshot.
func ParseProviderTag(s string) (ProviderTag, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "mooshot" {
		return ProviderMoonshot, true
	}
	for _, tag := range ProviderTags {
		if string(tag) == name {
			return tag, true
		}
	}
	return "", false
}

// Known reports whether t is one of ProviderTags.
func (t ProviderTag) Known() bool {
	_, ok := ParseProviderTag(string(t))
	return ok
}

// EnvKey returns the environment variable that holds the provider's API key.
func (t ProviderTag) EnvKey() string {
	return strings.ToUpper(string(t)) + "_API_KEY"
}

func (t ProviderTag) String() string { return string(t) }
