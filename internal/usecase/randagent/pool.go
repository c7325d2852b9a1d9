package randagent

import (
	"sync"

	"rand-agent/internal/domain"
)

// entry is one pool member: a shared agent handle plus its health counter.
// Only the failure counter changes after creation, and only under Pool.mu.
type entry struct {
	id           int32
	provider     string
	model        string
	agent        domain.Agent
	failureCount uint32
	maxFailures  uint32
}

func (e *entry) valid() bool { return e.failureCount < e.maxFailures }

func (e *entry) info() domain.AgentInfo {
	return domain.AgentInfo{
		ID:           e.id,
		Provider:     e.provider,
		Model:        e.model,
		FailureCount: e.failureCount,
		MaxFailures:  e.maxFailures,
	}
}

// AgentRef is a lookup result: the entry's health snapshot and its handle.
type AgentRef struct {
	domain.AgentInfo
	Agent domain.Agent
}

// Selection is what Acquire hands to the caller for one dispatch.
type Selection struct {
	Index int
	Info  domain.AgentInfo
	Agent domain.Agent
}

// Pool is an ordered, append-only set of agents guarded by a single mutex.
// Entries are never removed or reordered, so an index stays valid for the
// lifetime of the pool.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Push appends an agent. A maxFailures of zero is raised to one so that every
// entry starts out valid.
func (p *Pool) Push(id int32, provider, model string, agent domain.Agent, maxFailures uint32) {
	if maxFailures == 0 {
		maxFailures = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, &entry{
		id:          id,
		provider:    provider,
		model:       model,
		agent:       agent,
		maxFailures: maxFailures,
	})
}

// LenValid returns the number of selectable entries.
func (p *Pool) LenValid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lenValidLocked()
}

func (p *Pool) lenValidLocked() int {
	n := 0
	for _, e := range p.entries {
		if e.valid() {
			n++
		}
	}
	return n
}

// LenTotal returns the number of entries, valid or not.
func (p *Pool) LenTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// IsEmpty reports whether no entry is selectable, either because none was
// pushed or because every one has reached its failure ceiling.
func (p *Pool) IsEmpty() bool {
	return p.LenValid() == 0
}

// SelectValidIndex picks an index uniformly at random among valid entries.
// intn must behave like rand.IntN.
func (p *Pool) SelectValidIndex(intn func(int) int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked(intn)
}

func (p *Pool) selectLocked(intn func(int) int) (int, bool) {
	valid := make([]int, 0, len(p.entries))
	for i, e := range p.entries {
		if e.valid() {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}
	return valid[intn(len(valid))], true
}

// Acquire selects a valid entry and returns its identity and handle in one
// critical section. The caller runs the agent without holding the lock.
func (p *Pool) Acquire(intn func(int) int) (Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.selectLocked(intn)
	if !ok {
		return Selection{}, false
	}
	e := p.entries[idx]
	return Selection{Index: idx, Info: e.info(), Agent: e.agent}, true
}

// Update records the outcome of a call against the entry at index.
// Success resets the counter. Failure increments it, saturating at the
// ceiling; onInvalid runs, still under the lock, only when this failure moved
// the entry from valid to invalid. It must not call back into the pool.
// The returned info is the entry's state after the update.
func (p *Pool) Update(index int, success bool, onInvalid func(id int32)) (info domain.AgentInfo, invalidated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.entries) {
		return domain.AgentInfo{}, false
	}
	e := p.entries[index]

	if success {
		e.failureCount = 0
		return e.info(), false
	}

	wasValid := e.valid()
	if e.failureCount < e.maxFailures {
		e.failureCount++
	}
	if wasValid && !e.valid() {
		invalidated = true
		if onInvalid != nil {
			onInvalid(e.id)
		}
	}
	return e.info(), invalidated
}

// FindByID returns the first entry with the given id.
func (p *Pool) FindByID(id int32) (AgentRef, bool) {
	return p.find(func(e *entry) bool { return e.id == id })
}

// FindBy returns the first entry serving provider/model.
func (p *Pool) FindBy(provider, model string) (AgentRef, bool) {
	return p.find(func(e *entry) bool { return e.provider == provider && e.model == model })
}

func (p *Pool) find(match func(*entry) bool) (AgentRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if match(e) {
			return AgentRef{AgentInfo: e.info(), Agent: e.agent}, true
		}
	}
	return AgentRef{}, false
}

// SnapshotStats copies the failure statistics and identities of every entry,
// in insertion order, from one consistent view of the pool.
func (p *Pool) SnapshotStats() ([]domain.FailureStat, []domain.AgentInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]domain.FailureStat, len(p.entries))
	infos := make([]domain.AgentInfo, len(p.entries))
	for i, e := range p.entries {
		stats[i] = domain.FailureStat{Index: i, FailureCount: e.failureCount, MaxFailures: e.maxFailures}
		infos[i] = e.info()
	}
	return stats, infos
}

// ResetAll zeroes every failure counter.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.failureCount = 0
	}
}
