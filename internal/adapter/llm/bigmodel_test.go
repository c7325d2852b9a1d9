package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

const bigmodelOK = `{
	"id": "chatcmpl-1",
	"created": 1700000000,
	"model": "glm-4-flash",
	"request_id": "req-42",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello"}}],
	"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
}`

func newBigmodel(t *testing.T, handler http.HandlerFunc) *BigmodelProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	// Trailing slash mirrors the default base URL shape.
	return NewBigmodelProvider(config.ProviderConfig{BaseURL: srv.URL + "/api/paas/v4/", APIKey: "sk-test", Model: "glm-4-flash"}, testLogger())
}

func TestBigmodelChatRequestShape(t *testing.T) {
	p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/paas/v4/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body := decodeBody(t, r)
		assert.Equal(t, "glm-4-flash", body["model"])
		assert.Equal(t, 0.3, body["temperature"])
		assert.Equal(t, "auto", body["tool_choice"])
		assert.NotContains(t, body, "stream")

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 4)
		assert.Equal(t, map[string]any{"role": "system", "content": "be brief"}, msgs[0])
		assert.Equal(t, map[string]any{"role": "user", "content": "time?"}, msgs[1])

		assistant := msgs[2].(map[string]any)
		calls := assistant["tool_calls"].([]any)
		require.Len(t, calls, 1)
		call := calls[0].(map[string]any)
		assert.Equal(t, "call_1", call["id"])
		assert.Equal(t, 0.0, call["index"])
		assert.Equal(t, "function", call["type"])
		fn := call["function"].(map[string]any)
		assert.Equal(t, "datetime", fn["name"])
		assert.Equal(t, `{"tz":"UTC"}`, fn["arguments"], "arguments travel as a JSON string")

		tool := msgs[3].(map[string]any)
		assert.Equal(t, "tool", tool["role"])
		assert.Equal(t, "call_1", tool["tool_call_id"])
		assert.Equal(t, "2026-01-01", tool["content"])

		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		assert.Equal(t, "function", tools[0].(map[string]any)["type"])

		w.Write([]byte(bigmodelOK))
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Temperature: ptr(0.3),
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			domain.UserMessage("time?"),
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "datetime", Arguments: json.RawMessage(`{"tz":"UTC"}`)}}},
			{Role: domain.RoleTool, ToolCallID: "call_1", Content: "2026-01-01"},
		},
		Tools: []domain.ToolSchema{{Name: "datetime", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.ID)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
}

func TestBigmodelChatToolCallResponse(t *testing.T) {
	p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"request_id":"r","choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_9","index":0,"type":"function","function":{"name":"datetime","arguments":"{}"}}]}}]}`))
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("x")}})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "datetime", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestBigmodelErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode int
		sentinel error
	}{
		{"message on 2xx", http.StatusOK, `{"message":"model not found"}`, "model not found", 0, nil},
		{"message on 401", http.StatusUnauthorized, `{"message":"bad token"}`, "bad token", 401, domain.ErrAuthInvalid},
		{"nested error on 429", http.StatusTooManyRequests, `{"error":{"code":"1302","message":"slow down"}}`, "slow down", 429, domain.ErrRateLimit},
		{"plain text on 502", http.StatusBadGateway, "upstream exploded", "upstream exploded", 502, domain.ErrServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("x")}})

			var perr *domain.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantMsg, perr.Message)
			assert.Equal(t, tt.wantCode, perr.StatusCode)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestBigmodelEmptyChoicesIsResponseError(t *testing.T) {
	p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"request_id":"r","choices":[]}`))
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("x")}})

	var rerr *domain.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, domain.CodeResponse, domain.ErrorCodeOf(err))
}

func TestBigmodelConversionErrors(t *testing.T) {
	p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	})

	for _, msgs := range [][]domain.Message{
		{{Role: domain.RoleTool, Content: "orphan"}},
		{{Role: "critic", Content: "?"}},
	} {
		_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: msgs})
		var cerr *domain.ConversionError
		assert.True(t, errors.As(err, &cerr), "got %v", err)
	}
}

func TestBigmodelTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := NewBigmodelProvider(config.ProviderConfig{BaseURL: base, APIKey: "k", Model: "m"}, testLogger())
	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("x")}})

	var terr *domain.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestBigmodelChatStream(t *testing.T) {
	p := newBigmodel(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"total_tokens\":9}}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	})

	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{Messages: []domain.Message{domain.UserMessage("x")}})
	require.NoError(t, err)

	msg, usage := collectStream(ch)
	assert.Equal(t, "Hello", msg.Content)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.TotalTokens)
}

func TestBigmodelDefaults(t *testing.T) {
	p := NewBigmodelProvider(config.ProviderConfig{}, testLogger())
	assert.Equal(t, BigmodelBaseURL, p.baseURL)
	assert.Equal(t, "bigmodel", p.Name())
}
