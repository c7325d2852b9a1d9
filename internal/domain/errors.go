package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category sentinels. Provider errors wrap one of these when the HTTP status
// code maps to a known failure class.
var (
	ErrNoValidAgents       = errors.New("no valid agents available")
	ErrRateLimit           = errors.New("rate limit exceeded")
	ErrAuthInvalid         = errors.New("authentication failed")
	ErrContextOverflow     = errors.New("context window exceeded")
	ErrServerError         = errors.New("provider server error")
	ErrProviderNotFound    = errors.New("llm provider not found")
	ErrUnsupportedProvider = errors.New("provider not supported")
	ErrToolNotFound        = errors.New("tool not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConfigLoad          = errors.New("failed to load configuration")
)

// noValidAgentPrompt is the Prompt text carried by the MaxDepthError that
// reports an empty or fully invalidated pool.
const noValidAgentPrompt = "no valid agent"

// MaxDepthError reports that a prompt could not be completed within the
// allowed depth. A Depth of zero means no agent was available at all; in
// that case the error unwraps to ErrNoValidAgents.
type MaxDepthError struct {
	Depth   int
	History []Message
	Prompt  string
}

func (e *MaxDepthError) Error() string {
	if e.Depth == 0 {
		return fmt.Sprintf("max depth reached (0): %s", ErrNoValidAgents)
	}
	return fmt.Sprintf("max depth reached (%d) while answering %q", e.Depth, e.Prompt)
}

func (e *MaxDepthError) Unwrap() error {
	if e.Depth == 0 {
		return ErrNoValidAgents
	}
	return nil
}

// NoValidAgentsError returns the error the dispatcher uses when the pool has
// no selectable entry.
func NoValidAgentsError() *MaxDepthError {
	return &MaxDepthError{Depth: 0, History: []Message{}, Prompt: noValidAgentPrompt}
}

// ProviderError is a non-success reply from a remote endpoint.
type ProviderError struct {
	StatusCode int // 0 when the error arrived inside a 2xx body
	Message    string
	Err        error // classified sentinel, may be nil
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (%d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransportError is a connection, TLS or timeout failure in the HTTP layer.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "transport error: " + e.Cause.Error() }

func (e *TransportError) Unwrap() error { return e.Cause }

// ConversionError means a message could not be expressed in the wire format.
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string { return "conversion error: " + e.Reason }

// ResponseError is a successful HTTP reply that carries nothing usable.
type ResponseError struct {
	Reason string
}

func (e *ResponseError) Error() string { return "response error: " + e.Reason }

// RetryExhaustedError is returned when the retry driver hit its attempt cap.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Builder.Build")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err may clear without any change on the
// caller's side: rate limiting, a 5xx reply, a transport or network failure,
// or an expired deadline. Caller cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrServerError) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var (
		terr *TransportError
		nerr net.Error
	)
	return errors.As(err, &terr) || errors.As(err, &nerr)
}

// ErrorCode is a machine-parseable error category for logs and metrics.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNoValidAgents       ErrorCode = "NO_VALID_AGENTS"
	CodeMaxDepth            ErrorCode = "MAX_DEPTH"
	CodeProvider            ErrorCode = "PROVIDER"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeServerError         ErrorCode = "SERVER_ERROR"
	CodeTransport           ErrorCode = "TRANSPORT"
	CodeConversion          ErrorCode = "CONVERSION"
	CodeResponse            ErrorCode = "RESPONSE"
	CodeRetryExhausted      ErrorCode = "RETRY_EXHAUSTED"
	CodeCancelled           ErrorCode = "CANCELLED"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
)

// sentinelCodes maps sentinels to codes. Order matters: the more specific
// provider classes are checked before the generic ones.
var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNoValidAgents, CodeNoValidAgents},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrServerError, CodeServerError},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrUnsupportedProvider, CodeUnsupportedProvider},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
}

// ErrorCodeOf returns the code for err. A RetryExhaustedError reports
// CodeRetryExhausted regardless of what it wraps.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var retryErr *RetryExhaustedError
	if errors.As(err, &retryErr) {
		return CodeRetryExhausted
	}

	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}

	var (
		depthErr *MaxDepthError
		provErr  *ProviderError
		transErr *TransportError
		convErr  *ConversionError
		respErr  *ResponseError
	)
	switch {
	case errors.As(err, &depthErr):
		return CodeMaxDepth
	case errors.As(err, &provErr):
		return CodeProvider
	case errors.As(err, &transErr):
		return CodeTransport
	case errors.As(err, &convErr):
		return CodeConversion
	case errors.As(err, &respErr):
		return CodeResponse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	}
	return CodeUnknown
}
