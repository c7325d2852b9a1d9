package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"rand-agent/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*RateLimitedProvider)(nil)
	_ domain.StreamingLLMProvider = (*RateLimitedProvider)(nil)
)

// RateLimitedProvider spaces calls to inner so that at most
// requestsPerMinute start per minute. Callers wait for a token; a context
// that ends first aborts the wait with the context error.
type RateLimitedProvider struct {
	inner   domain.LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner. A non-positive requestsPerMinute
// returns inner unchanged.
func NewRateLimitedProvider(inner domain.LLMProvider, requestsPerMinute int) domain.LLMProvider {
	if requestsPerMinute <= 0 {
		return inner
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Message: "client rate limit: " + err.Error(), Err: domain.ErrRateLimit}
	}
	return p.inner.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *RateLimitedProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, &domain.ProviderError{Message: "provider " + p.inner.Name() + " does not support streaming"}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Message: "client rate limit: " + err.Error(), Err: domain.ErrRateLimit}
	}
	return sp.ChatStream(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }
