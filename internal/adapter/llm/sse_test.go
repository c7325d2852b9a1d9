package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
)

func textParser(data []byte) (*domain.StreamDelta, error) {
	var v struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &domain.StreamDelta{Content: v.Text}, nil
}

func drain(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestParseSSEStreamBasic(t *testing.T) {
	raw := "data: {\"text\":\"hello\"}\n\ndata:{\"text\":\"world\"}\n\ndata: [DONE]\n\n"
	deltas := drain(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 3)
	assert.Equal(t, "hello", deltas[0].Content)
	assert.Equal(t, "world", deltas[1].Content)
	assert.True(t, deltas[2].Done)
}

func TestParseSSEStreamSkipsNoise(t *testing.T) {
	raw := ": keep-alive\nevent: message\nid: 7\ndata: not-json\ndata: {\"text\":\"ok\"}\n\n"
	deltas := drain(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 1)
	assert.Equal(t, "ok", deltas[0].Content)
}

func TestParseSSEStreamStopsOnDoneDelta(t *testing.T) {
	raw := "data: {\"text\":\"a\"}\ndata: {\"text\":\"b\"}\n"
	deltas := drain(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), func(data []byte) (*domain.StreamDelta, error) {
		d, err := textParser(data)
		if err == nil {
			d.Done = true
		}
		return d, err
	}))

	require.Len(t, deltas, 1)
	assert.Equal(t, "a", deltas[0].Content)
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "data: {\"text\":\"x\"}\n"), nil
	}
	return 0, errors.New("connection reset")
}

func TestParseSSEStreamReadErrorEndsWithDone(t *testing.T) {
	deltas := drain(parseSSEStream(context.Background(), io.NopCloser(&failingReader{}), textParser))

	require.Len(t, deltas, 2)
	assert.Equal(t, "x", deltas[0].Content)
	assert.True(t, deltas[1].Done)
}

func TestParseSSEStreamContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	ch := parseSSEStream(ctx, pr, textParser)
	go func() {
		pw.Write([]byte("data: {\"text\":\"first\"}\n"))
	}()

	first := <-ch
	assert.Equal(t, "first", first.Content)

	cancel()
	pw.Close()

	select {
	case _, ok := <-ch:
		if ok {
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestCollectStreamMergesToolCalls(t *testing.T) {
	ch := make(chan domain.StreamDelta, 8)
	ch <- domain.StreamDelta{Content: "Let me "}
	ch <- domain.StreamDelta{Content: "check."}
	ch <- domain.StreamDelta{ToolCalls: []domain.ToolCall{{ID: "call_1", Index: 0, Name: "datetime", Arguments: json.RawMessage(`{"fo`)}}}
	ch <- domain.StreamDelta{ToolCalls: []domain.ToolCall{{Index: 0, Arguments: json.RawMessage(`rmat":"rfc3339"}`)}}}
	ch <- domain.StreamDelta{ToolCalls: []domain.ToolCall{{ID: "call_2", Index: 1, Name: "other", Arguments: json.RawMessage(`{}`)}}}
	ch <- domain.StreamDelta{Done: true, Usage: &domain.Usage{TotalTokens: 12}}
	close(ch)

	msg, usage := collectStream(ch)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	assert.Equal(t, "Let me check.", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "datetime", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"format":"rfc3339"}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, "call_2", msg.ToolCalls[1].ID)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.TotalTokens)
}
