package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"rand-agent/internal/domain"
)

// maxReportedViolations caps how many schema violations go back to the model.
const maxReportedViolations = 5

// validatedTool checks the model's arguments against the tool's declared
// parameter schema before the tool sees them.
type validatedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that arguments violating its parameter
// schema are answered with an error result naming each offending field.
// Tools that declare no parameters are returned unchanged.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := bytes.TrimSpace(t.Schema().Parameters)
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	url := t.Name() + ".parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %q: load parameter schema: %w", t.Name(), err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile parameter schema: %w", t.Name(), err)
	}
	return &validatedTool{Tool: t, schema: schema}, nil
}

func (v *validatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	args := bytes.TrimSpace(params)
	if len(args) == 0 || string(args) == "null" {
		args = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Failf("%s: arguments are not valid JSON: %v", v.Name(), err)
	}

	if err := v.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return Failf("%s: arguments could not be validated: %v", v.Name(), err)
		}
		return Failf("%s: arguments do not match the schema: %s", v.Name(), describeViolations(verr))
	}
	return v.Tool.Execute(ctx, params)
}

// describeViolations flattens the validation tree into "location: message"
// pairs, keeping only the leaves, which name concrete problems.
func describeViolations(root *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "(root)"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)

	if extra := len(leaves) - maxReportedViolations; extra > 0 {
		leaves = append(leaves[:maxReportedViolations], fmt.Sprintf("and %d more", extra))
	}
	return strings.Join(leaves, "; ")
}
