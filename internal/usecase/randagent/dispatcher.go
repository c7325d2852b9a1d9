package randagent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/tracer"
)

// DefaultMaxFailures is the failure ceiling applied to agents added without
// an explicit one.
const DefaultMaxFailures uint32 = 3

// Outcome labels one dispatch for metrics.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNoAgent   Outcome = "no_agent"
)

// Recorder receives dispatch telemetry. Implementations must be safe for
// concurrent use and must not call back into the dispatcher.
type Recorder interface {
	ObserveDispatch(provider, model string, outcome Outcome, elapsed time.Duration)
	ObserveInvalidation(provider, model string)
	ObserveRetry()
	SetValidAgents(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string, string, Outcome, time.Duration) {}
func (nopRecorder) ObserveInvalidation(string, string)                     {}
func (nopRecorder) ObserveRetry()                                          {}
func (nopRecorder) SetValidAgents(int)                                     {}

// Dispatcher routes each prompt to one valid agent chosen uniformly at random
// and tracks consecutive failures per agent. It is safe for concurrent use.
type Dispatcher struct {
	pool        *Pool
	maxFailures uint32
	onInvalid   func(id int32)
	onRetry     NotifyFunc
	retry       RetryPolicy
	intn        func(int) int
	logger      *slog.Logger
	recorder    Recorder
}

// Prompt sends p to a randomly selected valid agent.
func (d *Dispatcher) Prompt(ctx context.Context, p domain.Prompt) (string, error) {
	text, _, err := d.dispatch(ctx, p)
	return text, err
}

// PromptWithInfo is Prompt plus the post-call snapshot of the agent that
// served the request.
func (d *Dispatcher) PromptWithInfo(ctx context.Context, p domain.Prompt) (string, domain.AgentInfo, error) {
	return d.dispatch(ctx, p)
}

// TryInvokeWithRetry retries Prompt with exponential backoff. A maxAttempts
// of zero uses the dispatcher's retry policy.
func (d *Dispatcher) TryInvokeWithRetry(ctx context.Context, p domain.Prompt, maxAttempts int) (string, error) {
	text, _, err := d.TryInvokeWithInfoRetry(ctx, p, maxAttempts)
	return text, err
}

// TryInvokeWithInfoRetry retries PromptWithInfo with exponential backoff.
func (d *Dispatcher) TryInvokeWithInfoRetry(ctx context.Context, p domain.Prompt, maxAttempts int) (string, domain.AgentInfo, error) {
	policy := d.retry
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}

	type result struct {
		text string
		info domain.AgentInfo
	}
	res, err := Retry(ctx, policy, func(ctx context.Context) (result, error) {
		text, info, err := d.dispatch(ctx, p)
		return result{text: text, info: info}, err
	}, d.notifyRetry)
	if err != nil {
		d.logger.Warn("prompt retries exhausted", "error", err, "code", domain.ErrorCodeOf(err))
		return "", domain.AgentInfo{}, err
	}
	return res.text, res.info, nil
}

func (d *Dispatcher) notifyRetry(err error, delay time.Duration) {
	d.recorder.ObserveRetry()
	d.logger.Info("retrying prompt", "error", err, "delay", delay)
	if d.onRetry != nil {
		d.onRetry(err, delay)
	}
}

// dispatch performs one selection, call and counter update. The pool lock is
// held only inside Acquire and Update, never while the agent runs.
func (d *Dispatcher) dispatch(ctx context.Context, p domain.Prompt) (string, domain.AgentInfo, error) {
	reqID := ulid.Make().String()

	ctx, span := tracer.StartSpan(ctx, "randagent.dispatch",
		trace.WithAttributes(tracer.StringAttr("request.id", reqID)),
	)
	defer span.End()

	sel, ok := d.pool.Acquire(d.intn)
	if !ok {
		err := domain.NoValidAgentsError()
		d.recorder.ObserveDispatch("", "", OutcomeNoAgent, 0)
		d.logger.Warn("no valid agent", "request_id", reqID, "total", d.pool.LenTotal())
		tracer.RecordError(span, err)
		return "", domain.AgentInfo{}, err
	}

	span.SetAttributes(tracer.AgentAttrs(sel.Info)...)
	span.SetAttributes(tracer.IntAttr("agent.index", sel.Index))

	start := time.Now()
	text, err := sel.Agent.Prompt(ctx, p)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// A cancelled call says nothing about the provider's health.
		d.recorder.ObserveDispatch(sel.Info.Provider, sel.Info.Model, OutcomeCancelled, elapsed)
		d.logger.Debug("prompt cancelled",
			"request_id", reqID,
			"agent_id", sel.Info.ID,
			"duration", elapsed,
		)
		tracer.RecordError(span, err)
		return "", sel.Info, err
	}

	info, invalidated := d.pool.Update(sel.Index, err == nil, d.onInvalid)

	if err != nil {
		d.recorder.ObserveDispatch(info.Provider, info.Model, OutcomeFailure, elapsed)
		d.logger.Warn("agent prompt failed",
			"request_id", reqID,
			"agent_id", info.ID,
			"provider", info.Provider,
			"model", info.Model,
			"failures", info.FailureCount,
			"max_failures", info.MaxFailures,
			"code", domain.ErrorCodeOf(err),
			"error", err,
			"duration", elapsed,
		)
		if invalidated {
			d.recorder.ObserveInvalidation(info.Provider, info.Model)
			d.recorder.SetValidAgents(d.pool.LenValid())
			d.logger.Warn("agent invalidated",
				"agent_id", info.ID,
				"provider", info.Provider,
				"model", info.Model,
			)
		}
		tracer.RecordError(span, err)
		return "", info, err
	}

	d.recorder.ObserveDispatch(info.Provider, info.Model, OutcomeSuccess, elapsed)
	d.logger.Debug("agent prompt completed",
		"request_id", reqID,
		"agent_id", info.ID,
		"provider", info.Provider,
		"model", info.Model,
		"duration", elapsed,
	)
	tracer.SetOK(span)
	return text, info, nil
}

// AddAgent appends an agent with the dispatcher's default failure ceiling.
func (d *Dispatcher) AddAgent(id int32, provider, model string, agent domain.Agent) {
	d.AddAgentWithMaxFailures(id, provider, model, agent, d.maxFailures)
}

// AddAgentWithMaxFailures appends an agent with its own failure ceiling.
// A ceiling of zero means the dispatcher's default.
func (d *Dispatcher) AddAgentWithMaxFailures(id int32, provider, model string, agent domain.Agent, maxFailures uint32) {
	if maxFailures == 0 {
		maxFailures = d.maxFailures
	}
	d.pool.Push(id, provider, model, agent, maxFailures)
	d.recorder.SetValidAgents(d.pool.LenValid())
	d.logger.Debug("agent added", "agent_id", id, "provider", provider, "model", model, "max_failures", maxFailures)
}

// Len returns the number of valid agents.
func (d *Dispatcher) Len() int { return d.pool.LenValid() }

// LenTotal returns the number of agents, valid or not.
func (d *Dispatcher) LenTotal() int { return d.pool.LenTotal() }

// IsEmpty reports whether no agent is currently valid. A dispatcher whose
// agents have all been invalidated is empty until ResetFailures.
func (d *Dispatcher) IsEmpty() bool { return d.pool.IsEmpty() }

// FailureStats returns (index, failure_count, max_failures) for every agent.
func (d *Dispatcher) FailureStats() []domain.FailureStat {
	stats, _ := d.pool.SnapshotStats()
	return stats
}

// AgentsInfo returns a snapshot of every agent in insertion order.
func (d *Dispatcher) AgentsInfo() []domain.AgentInfo {
	_, infos := d.pool.SnapshotStats()
	return infos
}

// ResetFailures zeroes every failure counter, making all agents valid again.
func (d *Dispatcher) ResetFailures() {
	d.pool.ResetAll()
	n := d.pool.LenValid()
	d.recorder.SetValidAgents(n)
	d.logger.Info("agent failures reset", "valid", n)
}

// AgentByID returns the first agent added with id.
func (d *Dispatcher) AgentByID(id int32) (AgentRef, bool) { return d.pool.FindByID(id) }

// AgentByName returns the first agent serving provider/model.
func (d *Dispatcher) AgentByName(provider, model string) (AgentRef, bool) {
	return d.pool.FindBy(provider, model)
}

// defaultIntn draws from the runtime-seeded generator, which is safe for
// concurrent use and keeps no state shared with other callers.
func defaultIntn(n int) int { return rand.IntN(n) }
