package tool

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"rand-agent/internal/domain"
)

func TestExecute_JSONResult(t *testing.T) {
	type params struct {
		Name string `json:"name"`
	}
	result, err := Execute(context.Background(), "greet", nopLogger(), json.RawMessage(`{"name":"alice"}`),
		func(_ context.Context, p params) (any, error) {
			return map[string]string{"greeting": "hello " + p.Name}, nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != `{"greeting":"hello alice"}` {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_StringResult(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		result, _ := Execute(context.Background(), "echo", nopLogger(), json.RawMessage(raw),
			func(context.Context, struct{}) (any, error) { return "plain text", nil },
		)
		if result.IsError || result.Content != "plain text" {
			t.Errorf("%q: result = %+v", raw, result)
		}
	}
}

func TestExecute_InvalidArguments(t *testing.T) {
	called := false
	result, _ := Execute(context.Background(), "echo", nopLogger(), json.RawMessage(`[1,2]`),
		func(context.Context, struct{ A string }) (any, error) {
			called = true
			return nil, nil
		},
	)
	if called {
		t.Error("handler must not run on undecodable arguments")
	}
	if !result.IsError || !strings.HasPrefix(result.Content, "invalid arguments for echo") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_HandlerError(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{errors.New("permission denied"), false},
		{domain.ErrRateLimit, true},
		{&domain.TransportError{Cause: errors.New("eof")}, true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		result, err := Execute(context.Background(), "flaky", nopLogger(), nil,
			func(context.Context, struct{}) (any, error) { return nil, tt.err },
		)
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !result.IsError || !strings.HasPrefix(result.Content, tt.err.Error()) {
			t.Errorf("%v: result = %+v", tt.err, result)
		}
		if got := strings.Contains(result.Content, "transient"); got != tt.transient {
			t.Errorf("%v: transient hint = %v, want %v", tt.err, got, tt.transient)
		}
	}
}

func TestExecute_UnencodableResult(t *testing.T) {
	result, _ := Execute(context.Background(), "nan", nopLogger(), nil,
		func(context.Context, struct{}) (any, error) { return math.NaN(), nil },
	)
	if !result.IsError || !strings.Contains(result.Content, "cannot be encoded") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecute_ToolResultPassthrough(t *testing.T) {
	want := &domain.ToolResult{Content: "custom", IsError: true}
	result, _ := Execute(context.Background(), "custom", nopLogger(), nil,
		func(context.Context, struct{}) (any, error) { return want, nil },
	)
	if result != want {
		t.Errorf("result = %+v, want passthrough", result)
	}
}

func TestDispatch(t *testing.T) {
	type params struct {
		Action string `json:"action"`
	}
	handler := Dispatch(Actions[params]{
		Field:   func(p params) string { return p.Action },
		Default: "list",
		Table: map[string]Handler[params]{
			"list":   func(context.Context, params) (any, error) { return "listed", nil },
			"create": func(context.Context, params) (any, error) { return "created", nil },
		},
	})

	for raw, want := range map[string]string{
		`{}`:                   "listed",
		`{"action":"create"}`:  "created",
		`{"action":"destroy"}`: `invalid input: unknown action "destroy" (want one of create, list)`,
	} {
		result, _ := Execute(context.Background(), "things", nopLogger(), json.RawMessage(raw), handler)
		if result.Content != want {
			t.Errorf("%s: Content = %q, want %q", raw, result.Content, want)
		}
	}
}
