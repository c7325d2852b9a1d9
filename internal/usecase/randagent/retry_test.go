package randagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		InitialDelay: time.Millisecond,
		Factor:       2,
		MaxDelay:     50 * time.Millisecond,
		MaxAttempts:  maxAttempts,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var delays []time.Duration

	out, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errStub
		}
		return "hello", nil
	}, func(err error, d time.Duration) {
		assert.ErrorIs(t, err, errStub)
		delays = append(delays, d)
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

func TestRetry_ExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	notified := 0
	last := errors.New("attempt 3")

	_, err := Retry(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 3 {
			return 0, last
		}
		return 0, errStub
	}, func(error, time.Duration) { notified++ })

	var exhausted *domain.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, notified)
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(1), func(context.Context) (int, error) {
		calls++
		return 0, errStub
	}, nil)

	var exhausted *domain.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{InitialDelay: time.Hour, MaxAttempts: 5}

	calls := 0
	_, err := Retry(ctx, policy, func(context.Context) (int, error) {
		calls++
		return 0, errStub
	}, func(error, time.Duration) { cancel() })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy(), p)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 2.0, p.Factor)
	assert.Equal(t, 0.0, p.Jitter)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
	assert.Equal(t, 3, p.MaxAttempts)

	p = RetryPolicy{InitialDelay: 2 * time.Minute, Jitter: 3}.withDefaults()
	assert.Equal(t, 2*time.Minute, p.MaxDelay)
	assert.Equal(t, 0.0, p.Jitter)
}

func TestDispatcher_TryInvokeWithRetry(t *testing.T) {
	a := &scriptedAgent{failFirst: 2, text: "hello"}
	var mu sync.Mutex
	var delays []time.Duration
	rec := &fakeRecorder{}

	d := NewBuilder().
		Logger(testLogger()).
		Recorder(rec).
		RetryPolicy(fastPolicy(3)).
		OnRetry(func(_ error, delay time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, delay)
		}).
		AddAgentWithMaxFailures(1, "stub", "a", a, 5).
		Build()

	out, info, err := d.TryInvokeWithInfoRetry(context.Background(), domain.NewPrompt("x"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int32(1), info.ID)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
	assert.Equal(t, 2, rec.retries)
}

func TestDispatcher_TryInvokeWithRetryExhaustedOnEmptyPool(t *testing.T) {
	d := NewBuilder().Logger(testLogger()).RetryPolicy(fastPolicy(5)).Build()

	_, err := d.TryInvokeWithRetry(context.Background(), domain.NewPrompt("x"), 2)

	var exhausted *domain.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, domain.ErrNoValidAgents)
	assert.Equal(t, domain.CodeRetryExhausted, domain.ErrorCodeOf(err))
}

func TestDispatcher_RetryInvalidatesThenExhausts(t *testing.T) {
	var fired []int32
	d := NewBuilder().
		Logger(testLogger()).
		RetryPolicy(fastPolicy(4)).
		OnAgentInvalid(func(id int32) { fired = append(fired, id) }).
		AddAgentWithMaxFailures(3, "stub", "a", failAgent(errStub), 2).
		Build()

	_, err := d.TryInvokeWithRetry(context.Background(), domain.NewPrompt("x"), 0)

	var exhausted *domain.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	// Attempts 3 and 4 find the pool fully invalid.
	assert.ErrorIs(t, err, domain.ErrNoValidAgents)
	assert.Equal(t, []int32{3}, fired)
}
