package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"rand-agent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)

	mu       sync.Mutex
	requests []domain.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) calls() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

type mockStreamProvider struct {
	mockProvider
	streamFunc func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

// replies returns a chatFunc that serves msgs in order and repeats the last.
func replies(msgs ...domain.Message) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		msg := msgs[i]
		if i < len(msgs)-1 {
			i++
		}
		return &domain.ChatResponse{Message: msg}, nil
	}
}

type stubTool struct {
	name string
	fn   func(json.RawMessage) (*domain.ToolResult, error)
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub " + s.name }
func (s stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: s.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (s stubTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return s.fn(params)
}

type stubTools map[string]domain.Tool

func (s stubTools) Get(name string) (domain.Tool, error) {
	t, ok := s[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (s stubTools) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(s))
	for _, t := range s {
		out = append(out, t.Schema())
	}
	return out
}

// decodeBody reads a JSON request body into a generic map.
func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func ptr[T any](v T) *T { return &v }
