package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"rand-agent/internal/domain"
)

func greetSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"times": {"type": "integer", "minimum": 1}
		},
		"required": ["name"],
		"additionalProperties": false
	}`)
}

func TestSchemaValidation_ValidParams(t *testing.T) {
	inner := &stubTool{name: "greet", schema: greetSchema(), result: &domain.ToolResult{Content: "ok"}}
	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{"name":"alice","times":2}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError || res.Content != "ok" || inner.calls != 1 {
		t.Errorf("result = %+v, calls = %d", res, inner.calls)
	}
	if wrapped.Name() != "greet" || string(wrapped.Schema().Parameters) != string(greetSchema()) {
		t.Error("wrapper must expose the inner tool's name and schema")
	}
}

func TestSchemaValidation_ReportsEachViolation(t *testing.T) {
	inner := &stubTool{name: "greet", schema: greetSchema()}
	wrapped, _ := WithSchemaValidation(inner)

	res, _ := wrapped.Execute(context.Background(), json.RawMessage(`{"name":42,"times":1.5}`))
	if !res.IsError || !strings.HasPrefix(res.Content, "greet: arguments do not match the schema: ") {
		t.Fatalf("result = %+v", res)
	}
	for _, want := range []string{"/name:", "/times:"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("report %q does not mention %s", res.Content, want)
		}
	}
	if inner.calls != 0 {
		t.Error("inner tool ran despite invalid arguments")
	}
}

func TestSchemaValidation_MissingArguments(t *testing.T) {
	wrapped, _ := WithSchemaValidation(&stubTool{name: "greet", schema: greetSchema()})

	for _, raw := range []string{"", "null"} {
		res, _ := wrapped.Execute(context.Background(), json.RawMessage(raw))
		if !res.IsError || !strings.Contains(res.Content, "(root):") {
			t.Errorf("%q: result = %+v", raw, res)
		}
	}

	res, _ := wrapped.Execute(context.Background(), json.RawMessage(`{broken`))
	if !res.IsError || !strings.Contains(res.Content, "not valid JSON") {
		t.Errorf("result = %+v", res)
	}
}

func TestSchemaValidation_NoSchema(t *testing.T) {
	inner := &stubTool{name: "plain"}
	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}
	if wrapped != domain.Tool(inner) {
		t.Error("tool without schema should be returned unwrapped")
	}
}

func TestSchemaValidation_CompileError(t *testing.T) {
	_, err := WithSchemaValidation(&stubTool{name: "bad", schema: json.RawMessage(`{"type": "invalid_type"}`)})
	if err == nil || !strings.Contains(err.Error(), `tool "bad"`) {
		t.Errorf("err = %v, want compile error naming the tool", err)
	}
}

func TestDescribeViolations_Caps(t *testing.T) {
	wrapped, _ := WithSchemaValidation(&stubTool{name: "many", schema: json.RawMessage(`{
		"type": "object",
		"additionalProperties": {"type": "string"}
	}`)})

	res, _ := wrapped.Execute(context.Background(), json.RawMessage(`{"a":1,"b":2,"c":3,"d":4,"e":5,"f":6,"g":7}`))
	if !res.IsError || !strings.HasSuffix(res.Content, "and 2 more") {
		t.Errorf("result = %+v", res)
	}
}
