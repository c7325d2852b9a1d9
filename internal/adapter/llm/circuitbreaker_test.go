package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

func failingProvider(err error) *mockProvider {
	return &mockProvider{name: "stub", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}}
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	inner := failingProvider(&domain.ProviderError{StatusCode: 503, Err: domain.ErrServerError})
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour}, testLogger())

	for range 2 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrServerError)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, perr.Message, "circuit open")
	assert.Len(t, inner.calls(), 2)
}

func TestCircuitBreakerOpensOnTransportErrors(t *testing.T) {
	inner := failingProvider(&domain.TransportError{Cause: errors.New("connection refused")})
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}, testLogger())

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	for name, err := range map[string]error{
		"auth":      &domain.ProviderError{StatusCode: 401, Err: domain.ErrAuthInvalid},
		"overflow":  &domain.ProviderError{StatusCode: 413, Err: domain.ErrContextOverflow},
		"cancelled": context.Canceled,
		"response":  &domain.ResponseError{Reason: "empty"},
	} {
		t.Run(name, func(t *testing.T) {
			inner := failingProvider(err)
			cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}, testLogger())
			for range 3 {
				_, got := cb.Chat(context.Background(), domain.ChatRequest{})
				assert.ErrorIs(t, got, err)
			}
			assert.Equal(t, gobreaker.StateClosed, cb.State())
			assert.Len(t, inner.calls(), 3)
		})
	}
}

func TestCircuitBreakerStream(t *testing.T) {
	ch := make(chan domain.StreamDelta)
	close(ch)
	inner := &mockStreamProvider{
		mockProvider: mockProvider{name: "s"},
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return ch, nil
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, testLogger())

	got, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.NotNil(t, got)

	plain := NewCircuitBreakerProvider(failingProvider(nil), config.CircuitBreakerConfig{}, testLogger())
	_, err = plain.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorContains(t, err, "does not support streaming")
}

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(config.ProviderConfig{})
	assert.Zero(t, c.Timeout)

	tr := NewPooledTransport(0, 0, config.PoolConfig{MaxIdleConns: 3})
	assert.Equal(t, 3, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
}
