package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"rand-agent/internal/domain"
)

// DefaultMaxTurns is the tool-call depth used when an agent has tools but
// no explicit max_turns.
const DefaultMaxTurns = 5

var _ domain.Agent = (*ChatAgent)(nil)

// ChatAgentConfig configures a ChatAgent.
type ChatAgentConfig struct {
	Name         string
	Model        string
	SystemPrompt string
	Temperature  *float64
	Tools        []domain.Tool
	MaxTurns     int
}

// ChatAgent turns an LLMProvider into a domain.Agent. Each Prompt is an
// independent exchange: system prompt, caller history, then the prompt text.
// Tool calls requested by the model are executed and fed back until the
// model answers in text or MaxTurns round trips have been spent.
type ChatAgent struct {
	provider     domain.LLMProvider
	name         string
	model        string
	systemPrompt string
	temperature  *float64
	tools        map[string]domain.Tool
	schemas      []domain.ToolSchema
	maxTurns     int
	logger       *slog.Logger
}

// NewChatAgent wraps provider.
func NewChatAgent(provider domain.LLMProvider, cfg ChatAgentConfig, logger *slog.Logger) *ChatAgent {
	a := &ChatAgent{
		provider:     provider,
		name:         cfg.Name,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTurns:     cfg.MaxTurns,
		logger:       logger,
	}
	if a.name == "" {
		a.name = domain.DefaultAgentName
	}
	if len(cfg.Tools) > 0 {
		a.tools = make(map[string]domain.Tool, len(cfg.Tools))
		for _, t := range cfg.Tools {
			a.tools[t.Name()] = t
			a.schemas = append(a.schemas, t.Schema())
		}
		if a.maxTurns <= 0 {
			a.maxTurns = DefaultMaxTurns
		}
	}
	return a
}

// Name returns the agent's display name.
func (a *ChatAgent) Name() string { return a.name }

// Prompt implements domain.Agent.
func (a *ChatAgent) Prompt(ctx context.Context, p domain.Prompt) (string, error) {
	msgs := make([]domain.Message, 0, len(p.History)+2)
	if a.systemPrompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: a.systemPrompt})
	}
	msgs = append(msgs, p.History...)
	msgs = append(msgs, domain.UserMessage(p.Text))

	for turn := 0; ; turn++ {
		resp, err := a.provider.Chat(ctx, domain.ChatRequest{
			Model:       a.model,
			Messages:    msgs,
			Tools:       a.schemas,
			Temperature: a.temperature,
		})
		if err != nil {
			return "", err
		}

		reply := resp.Message
		if len(reply.ToolCalls) == 0 || a.tools == nil {
			if reply.Content == "" {
				return "", &domain.ResponseError{Reason: "response contained no message or tool call"}
			}
			return reply.Content, nil
		}

		if turn >= a.maxTurns {
			return "", &domain.MaxDepthError{Depth: a.maxTurns, History: msgs, Prompt: p.Text}
		}

		reply.Role = domain.RoleAssistant
		msgs = append(msgs, reply)
		for _, call := range reply.ToolCalls {
			msgs = append(msgs, a.runTool(ctx, call))
		}
	}
}

// runTool executes one call and renders the outcome as a tool message.
// Failures are reported to the model rather than aborting the prompt.
func (a *ChatAgent) runTool(ctx context.Context, call domain.ToolCall) domain.Message {
	msg := domain.Message{Role: domain.RoleTool, Name: call.Name, ToolCallID: call.ID}

	tool, ok := a.tools[call.Name]
	if !ok {
		msg.Content = fmt.Sprintf("error: %v: %s", domain.ErrToolNotFound, call.Name)
		return msg
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	res, err := tool.Execute(ctx, args)
	switch {
	case err != nil:
		a.logger.Warn("tool failed", "agent", a.name, "tool", call.Name, "error", err)
		msg.Content = "error: " + domain.ToolErrorResult(err).Content
	case res.IsError:
		msg.Content = "error: " + res.Content
	default:
		msg.Content = res.Content
	}
	a.logger.Debug("tool executed", "agent", a.name, "tool", call.Name, "call_id", call.ID)
	return msg
}
