// Package health tracks per-agent reliability for the consume daemon.
// Repeated consecutive failures put an agent into cooldown so the
// scheduler stops feeding it work for a while. State is in-memory; the
// live tracker is authoritative.
package health

import (
	"sync"
	"time"
)

// Status is the derived health state of an agent.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Cooldown Status = "cooldown"
)

// AgentHealth is the per-agent view handed to snapshots and IPC.
type AgentHealth struct {
	Agent               string     `json:"agent"`
	Spawns              int        `json:"spawns"`
	Successes           int        `json:"successes"`
	Failures            int        `json:"failures"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	Status              Status     `json:"health_status"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
}

// Tracker records spawn outcomes per agent.
type Tracker struct {
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time

	mu     sync.Mutex
	agents map[string]*agentState
}

type agentState struct {
	spawns              int
	successes           int
	failures            int
	consecutiveFailures int
	lastFailureAt       time.Time
	cooldownUntil       time.Time
}

// New creates a tracker. maxAttempts is the consecutive-failure count
// that triggers cooldown; cooldown is how long the agent then sits out.
func New(maxAttempts int, cooldown time.Duration) *Tracker {
	return &Tracker{
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		now:         func() time.Time { return time.Now().UTC() },
		agents:      map[string]*agentState{},
	}
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

func (t *Tracker) state(agent string) *agentState {
	st, ok := t.agents[agent]
	if !ok {
		st = &agentState{}
		t.agents[agent] = st
	}
	return st
}

// RecordSpawn counts one spawn of the agent.
func (t *Tracker) RecordSpawn(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state(agent).spawns++
}

// RecordSuccess counts a clean exit and resets the failure streak.
func (t *Tracker) RecordSuccess(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(agent)
	st.successes++
	st.consecutiveFailures = 0
	st.cooldownUntil = time.Time{}
}

// RecordFailure counts a failed completion. Reaching the attempt cap
// starts a cooldown window.
func (t *Tracker) RecordFailure(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(agent)
	st.failures++
	st.consecutiveFailures++
	st.lastFailureAt = t.now()
	if st.consecutiveFailures >= t.maxAttempts {
		st.cooldownUntil = t.now().Add(t.cooldown)
	}
}

// CanSpawn reports whether the agent is currently admitted. False only
// while a cooldown window is open.
func (t *Tracker) CanSpawn(agent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.agents[agent]
	if !ok {
		return true
	}
	return !t.now().Before(st.cooldownUntil)
}

// Get returns the health view for one agent.
func (t *Tracker) Get(agent string) AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view(agent, t.state(agent))
}

// All returns health views for every agent seen so far.
func (t *Tracker) All() []AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	views := make([]AgentHealth, 0, len(t.agents))
	for agent, st := range t.agents {
		views = append(views, t.view(agent, st))
	}
	return views
}

func (t *Tracker) view(agent string, st *agentState) AgentHealth {
	h := AgentHealth{
		Agent:               agent,
		Spawns:              st.spawns,
		Successes:           st.successes,
		Failures:            st.failures,
		ConsecutiveFailures: st.consecutiveFailures,
	}
	if !st.lastFailureAt.IsZero() {
		lf := st.lastFailureAt
		h.LastFailureAt = &lf
	}

	switch {
	case t.now().Before(st.cooldownUntil):
		h.Status = Cooldown
		cu := st.cooldownUntil
		h.CooldownUntil = &cu
	case st.consecutiveFailures > 0:
		h.Status = Degraded
	default:
		h.Status = Healthy
	}
	return h
}
