package tool

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/tracer"
)

// Handler is the typed body of a tool call. It returns a string, a
// *domain.ToolResult, or any other value, which the model receives as JSON.
type Handler[P any] func(ctx context.Context, p P) (any, error)

// Execute decodes raw into P and runs h inside a "tool.<name>" span.
// Undecodable arguments and handler failures become error results so the
// model can correct or repeat the call; the returned error is always nil.
func Execute[P any](ctx context.Context, toolName string, logger *slog.Logger, raw json.RawMessage, h Handler[P]) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tool."+toolName,
		trace.WithAttributes(tracer.StringAttr("tool.name", toolName)),
	)
	defer span.End()

	var p P
	if err := decodeArgs(raw, &p); err != nil {
		tracer.RecordError(span, err)
		return Failf("invalid arguments for %s: %v", toolName, err)
	}

	out, err := h(ctx, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn("tool call failed", "tool", toolName, "code", domain.ErrorCodeOf(err), "error", err)
		return domain.ToolErrorResult(err), nil
	}

	res, err := render(out)
	if err != nil {
		tracer.RecordError(span, err)
		return Failf("%s returned a result that cannot be encoded: %v", toolName, err)
	}
	if res.IsError {
		tracer.RecordError(span, errors.New(res.Content))
	} else {
		tracer.SetOK(span)
	}
	return res, nil
}

func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func render(out any) (*domain.ToolResult, error) {
	switch v := out.(type) {
	case *domain.ToolResult:
		return v, nil
	case string:
		return &domain.ToolResult{Content: v}, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &domain.ToolResult{Content: string(data)}, nil
}

// Failf builds an error result for input the model should fix. Nothing is
// logged: the mistake is the model's, not the tool's.
func Failf(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{IsError: true, Content: fmt.Sprintf(format, args...)}, nil
}

// Actions routes a call by an action field of its parameters.
type Actions[P any] struct {
	Field   func(P) string
	Default string // used when Field returns ""
	Table   map[string]Handler[P]
}

// Dispatch turns a into a single Handler. The chosen action is recorded on
// the current span.
func Dispatch[P any](a Actions[P]) Handler[P] {
	known := strings.Join(slices.Sorted(maps.Keys(a.Table)), ", ")
	return func(ctx context.Context, p P) (any, error) {
		action := cmp.Or(a.Field(p), a.Default)
		trace.SpanFromContext(ctx).SetAttributes(tracer.StringAttr("tool.action", action))

		h, ok := a.Table[action]
		if !ok {
			return nil, fmt.Errorf("%w: unknown action %q (want one of %s)", domain.ErrInvalidInput, action, known)
		}
		return h(ctx, p)
	}
}
