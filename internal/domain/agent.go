package domain

import "context"

// Agent answers a single prompt. Implementations are shared by the
// dispatcher across goroutines and must be safe for concurrent use.
// Cancelling ctx aborts the in-flight request.
type Agent interface {
	Prompt(ctx context.Context, p Prompt) (string, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(ctx context.Context, p Prompt) (string, error)

// Prompt calls f.
func (f AgentFunc) Prompt(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Prompt is the input of one chat call.
type Prompt struct {
	Text    string    `json:"text"`
	History []Message `json:"history,omitempty"` // prior turns, used for this call only
}

// NewPrompt converts plain text into a Prompt.
func NewPrompt(text string) Prompt { return Prompt{Text: text} }

func (p Prompt) String() string { return p.Text }

// DefaultAgentName labels agents built without an explicit name.
const DefaultAgentName = "rand agent"

// AgentConfig declares one pool member. It is consumed once by the provider
// builder and then discarded.
type AgentConfig struct {
	ID           int32       `json:"id"                      yaml:"id"`
	Provider     ProviderTag `json:"provider"                yaml:"provider"`
	ModelName    string      `json:"model_name"              yaml:"model_name"`
	APIKey       string      `json:"api_key,omitempty"       yaml:"api_key,omitempty"`
	APIBaseURL   string      `json:"api_base_url,omitempty"  yaml:"api_base_url,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	AgentName    string      `json:"agent_name,omitempty"    yaml:"agent_name,omitempty"`

	MaxFailures       uint32   `json:"max_failures,omitempty"        yaml:"max_failures,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"         yaml:"temperature,omitempty"`
	RequestsPerMinute int      `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
	Tools             []string `json:"tools,omitempty"               yaml:"tools,omitempty"`
	MaxTurns          int      `json:"max_turns,omitempty"           yaml:"max_turns,omitempty"`
}

// BuiltAgent is an agent constructed from an AgentConfig, ready to join a
// dispatcher pool. MaxFailures of zero means the dispatcher default.
type BuiltAgent struct {
	ID          int32
	Provider    string
	Model       string
	Name        string
	MaxFailures uint32
	Agent       Agent
}

// AgentInfo is a point-in-time copy of a pool entry's identity and health.
type AgentInfo struct {
	ID           int32  `json:"id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	FailureCount uint32 `json:"failure_count"`
	MaxFailures  uint32 `json:"max_failures"`
}

// Valid reports whether the entry is still selectable.
func (i AgentInfo) Valid() bool { return i.FailureCount < i.MaxFailures }

// FailureStat is one row of the dispatcher's failure statistics.
type FailureStat struct {
	Index        int    `json:"index"`
	FailureCount uint32 `json:"failure_count"`
	MaxFailures  uint32 `json:"max_failures"`
}
