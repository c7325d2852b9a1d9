package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
	"rand-agent/internal/infra/tracer"
)

// BigmodelBaseURL is the default Bigmodel (Zhipu GLM) API root.
const BigmodelBaseURL = "https://open.bigmodel.cn/api/paas/v4/"

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*BigmodelProvider)(nil)
	_ domain.StreamingLLMProvider = (*BigmodelProvider)(nil)
)

// BigmodelProvider talks to the Bigmodel chat-completions API. The wire
// format is OpenAI-like with a request_id on every reply and errors
// reported as {"message": ...}, sometimes with a 2xx status.
type BigmodelProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBigmodelProvider creates a Bigmodel provider.
func NewBigmodelProvider(cfg config.ProviderConfig, logger *slog.Logger) *BigmodelProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BigmodelBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = string(domain.ProviderBigmodel)
	}
	return &BigmodelProvider{
		name:    name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.LLMProvider.
func (p *BigmodelProvider) Name() string { return p.name }

// --- Bigmodel wire types ---

type bigmodelRequest struct {
	Model       string            `json:"model"`
	Messages    []bigmodelMessage `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []openaiTool      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type bigmodelMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type bigmodelResponse struct {
	ID        string           `json:"id"`
	Created   int64            `json:"created"`
	Model     string           `json:"model"`
	Choices   []bigmodelChoice `json:"choices"`
	Usage     openaiUsage      `json:"usage"`
	RequestID string           `json:"request_id"`
}

type bigmodelChoice struct {
	Index        int             `json:"index"`
	FinishReason string          `json:"finish_reason"`
	Message      bigmodelMessage `json:"message"`
}

// toBigmodelMessages converts domain messages, rejecting shapes the API
// cannot represent.
func toBigmodelMessages(msgs []domain.Message) ([]bigmodelMessage, error) {
	out := make([]bigmodelMessage, 0, len(msgs))
	for i, m := range msgs {
		bm := bigmodelMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case domain.RoleSystem, domain.RoleUser:
		case domain.RoleAssistant:
			bm.ToolCalls = toOpenAIToolCalls(m.ToolCalls)
		case domain.RoleTool:
			if m.ToolCallID == "" {
				return nil, &domain.ConversionError{Reason: fmt.Sprintf("message %d: tool result without tool_call_id", i)}
			}
			bm.ToolCallID = m.ToolCallID
		default:
			return nil, &domain.ConversionError{Reason: fmt.Sprintf("message %d: unsupported role %q", i, m.Role)}
		}
		out = append(out, bm)
	}
	return out, nil
}

func (p *BigmodelProvider) buildRequest(req domain.ChatRequest) (bigmodelRequest, error) {
	msgs, err := toBigmodelMessages(req.Messages)
	if err != nil {
		return bigmodelRequest{}, err
	}
	out := bigmodelRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if len(req.Tools) > 0 {
		out.Tools = toOpenAITools(req.Tools)
		out.ToolChoice = "auto"
	}
	return out, nil
}

// Chat implements domain.LLMProvider.
func (p *BigmodelProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	req.Stream = false
	wire, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", wire.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(wire)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, joinURL(p.baseURL, "chat/completions"), body, bearer(p.apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := decodeBigmodelResponse(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.StringAttr("llm.request_id", result.ID))
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)
	return result, nil
}

// decodeBigmodelResponse handles both the success shape and the
// {"message": ...} error envelope that may arrive with a 2xx status.
func decodeBigmodelResponse(raw []byte) (*domain.ChatResponse, error) {
	var resp bigmodelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.ResponseError{Reason: fmt.Sprintf("decode response: %v", err)}
	}
	if len(resp.Choices) == 0 {
		if msg, ok := jsonErrorMessage(raw); ok {
			return nil, &domain.ProviderError{Message: msg}
		}
		return nil, &domain.ResponseError{Reason: "response contained no choices"}
	}

	choice := resp.Choices[0]
	if choice.Message.Role != "" && choice.Message.Role != domain.RoleAssistant {
		return nil, &domain.ResponseError{Reason: "chat response does not include an assistant message"}
	}

	id := resp.RequestID
	if id == "" {
		id = resp.ID
	}
	return &domain.ChatResponse{
		ID:    id,
		Model: resp.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: fromOpenAIToolCalls(choice.Message.ToolCalls),
		},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}, nil
}

// ChatStream implements domain.StreamingLLMProvider. Chunks share the
// OpenAI delta shape.
func (p *BigmodelProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	req.Stream = true
	wire, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, joinURL(p.baseURL, "chat/completions"), body, bearer(p.apiKey))
	if err != nil {
		return nil, err
	}
	return parseSSEStream(ctx, httpResp.Body, parseOpenAIChunk), nil
}
