// Package monitor wires the per-session pipeline together: the aggregator
// folds raw detection events into state, the risk engine rescores, and the
// policy decides warnings and termination. The Manager keeps the live
// sessions, guards entry with exam access codes, and retires sessions into
// persisted records.
package monitor

import (
	"sync"
	"time"

	"github.com/examtrust/proctor/internal/policy"
	"github.com/examtrust/proctor/internal/risk"
	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
)

// Outcome is the result of one pipeline pass: the state after the pass and
// the consequences it raised. Warnings and Termination are only the ones
// raised by this pass; NewlyFlagged is set the first time the session flags.
type Outcome struct {
	State        session.State
	Warnings     []policy.Warning
	Termination  *policy.Termination
	NewlyFlagged bool
}

// Monitor runs the integrity pipeline for one session. A mutex serializes
// passes so an event is fully aggregated, scored, and policed before the
// next one is looked at; interleaved passes could warn twice for one breach.
type Monitor struct {
	mu      sync.Mutex
	agg     *session.Aggregator
	engine  *risk.Engine
	pol     *policy.Policy
	subs    map[int]func(Outcome)
	nextSub int
}

// New creates a Monitor for one session. Settings must be validated; now may
// be nil for the wall clock.
func New(cfg settings.Proctoring, thresholds settings.RiskThresholds, weights settings.Weights, now func() time.Time) *Monitor {
	return &Monitor{
		agg:    session.NewAggregator(now),
		engine: risk.NewEngine(cfg, thresholds, weights),
		pol:    policy.New(cfg),
		subs:   make(map[int]func(Outcome)),
	}
}

// Subscribe registers fn to be called after every pipeline pass. The
// returned cancel unregisters it.
func (m *Monitor) Subscribe(fn func(Outcome)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Process folds one event into the session and runs a full pipeline pass.
func (m *Monitor) Process(ev session.Event) Outcome {
	m.mu.Lock()
	m.agg.Apply(ev)
	out := m.evaluate()
	fns := m.subscribers()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
	return out
}

// Reevaluate runs a pipeline pass without a new event. Open duration
// intervals keep accruing between events, so a heartbeat or snapshot read
// can cross a threshold that the last event did not.
func (m *Monitor) Reevaluate() Outcome {
	m.mu.Lock()
	m.agg.Snapshot()
	out := m.evaluate()
	fns := m.subscribers()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
	return out
}

// subscribers copies the callback set under the held mutex; callbacks are
// invoked after release so they may call back into the monitor.
func (m *Monitor) subscribers() []func(Outcome) {
	if len(m.subs) == 0 {
		return nil
	}
	fns := make([]func(Outcome), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Snapshot returns the current state after a pipeline pass.
func (m *Monitor) Snapshot() session.State {
	return m.Reevaluate().State
}

// Terminated reports whether the policy has issued its terminate decision.
func (m *Monitor) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pol.Terminated()
}

// evaluate rescores and polices under the held mutex.
func (m *Monitor) evaluate() Outcome {
	var out Outcome
	out.State = m.agg.Mutate(func(st *session.State) {
		wasFlagged := st.Flagged
		m.engine.Evaluate(st)
		out.NewlyFlagged = st.Flagged && !wasFlagged
		out.Warnings, out.Termination = m.pol.Evaluate(st)
	})
	return out
}
