package randagent

import (
	"log/slog"

	"rand-agent/internal/domain"
)

type pendingAgent struct {
	id          int32
	provider    string
	model       string
	agent       domain.Agent
	maxFailures uint32 // 0 = builder default
}

// Builder assembles a Dispatcher.
type Builder struct {
	maxFailures uint32
	onInvalid   func(id int32)
	onRetry     NotifyFunc
	retry       RetryPolicy
	intn        func(int) int
	logger      *slog.Logger
	recorder    Recorder
	agents      []pendingAgent
}

// NewBuilder returns a builder with a failure ceiling of DefaultMaxFailures
// and DefaultRetryPolicy.
func NewBuilder() *Builder {
	return &Builder{
		maxFailures: DefaultMaxFailures,
		retry:       DefaultRetryPolicy(),
	}
}

// MaxFailures sets the default failure ceiling for agents added without one.
func (b *Builder) MaxFailures(n uint32) *Builder {
	if n > 0 {
		b.maxFailures = n
	}
	return b
}

// OnAgentInvalid registers a callback fired once each time an agent reaches
// its failure ceiling. It runs while the pool lock is held: it must be short
// and must not call the dispatcher.
func (b *Builder) OnAgentInvalid(fn func(id int32)) *Builder {
	b.onInvalid = fn
	return b
}

// OnRetry registers a hook called with (error, delay) before each retry sleep.
func (b *Builder) OnRetry(fn NotifyFunc) *Builder {
	b.onRetry = fn
	return b
}

// RetryPolicy sets the backoff used by the TryInvoke methods.
func (b *Builder) RetryPolicy(p RetryPolicy) *Builder {
	b.retry = p
	return b
}

// Logger sets the logger. Defaults to slog.Default().
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Recorder sets the metrics recorder.
func (b *Builder) Recorder(r Recorder) *Builder {
	b.recorder = r
	return b
}

// Rand replaces the selection source; intn must behave like rand.IntN.
func (b *Builder) Rand(intn func(int) int) *Builder {
	b.intn = intn
	return b
}

// AddAgent queues an agent with the default failure ceiling.
func (b *Builder) AddAgent(id int32, provider, model string, agent domain.Agent) *Builder {
	b.agents = append(b.agents, pendingAgent{id: id, provider: provider, model: model, agent: agent})
	return b
}

// AddAgentWithMaxFailures queues an agent with its own failure ceiling.
func (b *Builder) AddAgentWithMaxFailures(id int32, provider, model string, agent domain.Agent, maxFailures uint32) *Builder {
	b.agents = append(b.agents, pendingAgent{id: id, provider: provider, model: model, agent: agent, maxFailures: maxFailures})
	return b
}

// AddAgents queues agents produced by a provider builder.
func (b *Builder) AddAgents(agents ...domain.BuiltAgent) *Builder {
	for _, a := range agents {
		b.AddAgentWithMaxFailures(a.ID, a.Provider, a.Model, a.Agent, a.MaxFailures)
	}
	return b
}

// Build creates the Dispatcher. Agents keep their insertion order.
func (b *Builder) Build() *Dispatcher {
	d := &Dispatcher{
		pool:        NewPool(),
		maxFailures: b.maxFailures,
		onInvalid:   b.onInvalid,
		onRetry:     b.onRetry,
		retry:       b.retry.withDefaults(),
		intn:        b.intn,
		logger:      b.logger,
		recorder:    b.recorder,
	}
	if d.intn == nil {
		d.intn = defaultIntn
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}

	for _, a := range b.agents {
		maxFailures := a.maxFailures
		if maxFailures == 0 {
			maxFailures = b.maxFailures
		}
		d.pool.Push(a.id, a.provider, a.model, a.agent, maxFailures)
	}
	d.recorder.SetValidAgents(d.pool.LenValid())
	d.logger.Info("dispatcher built", "agents", d.pool.LenTotal(), "max_failures", d.maxFailures)
	return d
}
