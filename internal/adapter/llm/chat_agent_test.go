package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
)

func clockTool() stubTool {
	return stubTool{name: "clock", fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: "noon"}, nil
	}}
}

func toolCallReply(name string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: name}}}
}

func TestChatAgentPromptMessageOrder(t *testing.T) {
	provider := &mockProvider{name: "p", chatFunc: replies(domain.AssistantMessage("pong"))}
	agent := NewChatAgent(provider, ChatAgentConfig{Model: "m", SystemPrompt: "sys", Temperature: ptr(0.3)}, testLogger())

	out, err := agent.Prompt(context.Background(), domain.Prompt{
		Text:    "ping",
		History: []domain.Message{domain.UserMessage("earlier"), domain.AssistantMessage("reply")},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Equal(t, domain.DefaultAgentName, agent.Name())

	reqs := provider.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "m", reqs[0].Model)
	assert.Equal(t, 0.3, *reqs[0].Temperature)
	assert.Empty(t, reqs[0].Tools)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		domain.UserMessage("earlier"),
		domain.AssistantMessage("reply"),
		domain.UserMessage("ping"),
	}, reqs[0].Messages)
}

func TestChatAgentNoSystemPrompt(t *testing.T) {
	provider := &mockProvider{name: "p", chatFunc: replies(domain.AssistantMessage("pong"))}
	agent := NewChatAgent(provider, ChatAgentConfig{}, testLogger())

	_, err := agent.Prompt(context.Background(), domain.NewPrompt("ping"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{domain.UserMessage("ping")}, provider.calls()[0].Messages)
}

func TestChatAgentEmptyReply(t *testing.T) {
	provider := &mockProvider{name: "p", chatFunc: replies(domain.AssistantMessage(""))}
	agent := NewChatAgent(provider, ChatAgentConfig{}, testLogger())

	_, err := agent.Prompt(context.Background(), domain.NewPrompt("ping"))
	var rerr *domain.ResponseError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, domain.CodeResponse, domain.ErrorCodeOf(err))
}

func TestChatAgentProviderError(t *testing.T) {
	boom := &domain.ProviderError{StatusCode: 500, Err: domain.ErrServerError}
	agent := NewChatAgent(failingProvider(boom), ChatAgentConfig{}, testLogger())

	_, err := agent.Prompt(context.Background(), domain.NewPrompt("ping"))
	assert.ErrorIs(t, err, domain.ErrServerError)
}

func TestChatAgentToolLoop(t *testing.T) {
	provider := &mockProvider{name: "p", chatFunc: replies(toolCallReply("clock"), domain.AssistantMessage("it is noon"))}
	agent := NewChatAgent(provider, ChatAgentConfig{Tools: []domain.Tool{clockTool()}}, testLogger())

	out, err := agent.Prompt(context.Background(), domain.NewPrompt("time?"))
	require.NoError(t, err)
	assert.Equal(t, "it is noon", out)

	reqs := provider.calls()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "clock", reqs[0].Tools[0].Name)

	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, domain.Message{Role: domain.RoleTool, Name: "clock", ToolCallID: "call_1", Content: "noon"}, msgs[2])
}

func TestChatAgentToolFailuresReachModel(t *testing.T) {
	failing := stubTool{name: "flaky", fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return nil, errors.New("boom")
	}}
	overloaded := stubTool{name: "overloaded", fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return nil, &domain.ProviderError{StatusCode: 503, Message: "busy", Err: domain.ErrServerError}
	}}
	soft := stubTool{name: "soft", fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: "bad args", IsError: true}, nil
	}}

	tests := []struct {
		call string
		want string
	}{
		{"flaky", "error: boom"},
		{"overloaded", "error: provider error (503): busy (transient, repeating the call may succeed)"},
		{"soft", "error: bad args"},
		{"missing", "error: tool not found: missing"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			provider := &mockProvider{name: "p", chatFunc: replies(toolCallReply(tt.call), domain.AssistantMessage("done"))}
			agent := NewChatAgent(provider, ChatAgentConfig{Tools: []domain.Tool{failing, overloaded, soft}}, testLogger())

			out, err := agent.Prompt(context.Background(), domain.NewPrompt("go"))
			require.NoError(t, err)
			assert.Equal(t, "done", out)
			assert.Equal(t, tt.want, provider.calls()[1].Messages[2].Content)
		})
	}
}

func TestChatAgentEmptyArgumentsBecomeObject(t *testing.T) {
	var got json.RawMessage
	tool := stubTool{name: "clock", fn: func(args json.RawMessage) (*domain.ToolResult, error) {
		got = args
		return &domain.ToolResult{Content: "noon"}, nil
	}}
	provider := &mockProvider{name: "p", chatFunc: replies(toolCallReply("clock"), domain.AssistantMessage("ok"))}
	agent := NewChatAgent(provider, ChatAgentConfig{Tools: []domain.Tool{tool}}, testLogger())

	_, err := agent.Prompt(context.Background(), domain.NewPrompt("go"))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got))
}

func TestChatAgentMaxTurns(t *testing.T) {
	provider := &mockProvider{name: "p", chatFunc: replies(toolCallReply("clock"))}
	agent := NewChatAgent(provider, ChatAgentConfig{Tools: []domain.Tool{clockTool()}, MaxTurns: 2}, testLogger())

	_, err := agent.Prompt(context.Background(), domain.NewPrompt("loop"))
	var depth *domain.MaxDepthError
	require.ErrorAs(t, err, &depth)
	assert.Equal(t, 2, depth.Depth)
	assert.Equal(t, "loop", depth.Prompt)
	assert.NotErrorIs(t, err, domain.ErrNoValidAgents)
	assert.Len(t, provider.calls(), 3)
	// user + two rounds of (assistant, tool)
	assert.Len(t, depth.History, 5)
}

func TestChatAgentDefaultMaxTurns(t *testing.T) {
	agent := NewChatAgent(&mockProvider{name: "p"}, ChatAgentConfig{Tools: []domain.Tool{clockTool()}}, testLogger())
	assert.Equal(t, DefaultMaxTurns, agent.maxTurns)

	agent = NewChatAgent(&mockProvider{name: "p"}, ChatAgentConfig{}, testLogger())
	assert.Zero(t, agent.maxTurns)
}

func TestChatAgentIgnoresToolCallsWithoutTools(t *testing.T) {
	reply := toolCallReply("clock")
	reply.Content = "text as well"
	provider := &mockProvider{name: "p", chatFunc: replies(reply)}
	agent := NewChatAgent(provider, ChatAgentConfig{}, testLogger())

	out, err := agent.Prompt(context.Background(), domain.NewPrompt("go"))
	require.NoError(t, err)
	assert.Equal(t, "text as well", out)
	assert.Len(t, provider.calls(), 1)
}
