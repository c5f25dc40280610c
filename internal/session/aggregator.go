package session

import (
	"time"
)

// Aggregator applies detection events to a State. It is the single writer:
// every other component reads snapshots or mutates through it. Callers are
// responsible for serializing Apply calls (the monitor processes one event
// fully before accepting the next); the aggregator itself holds no lock.
//
// Duration signals accrue wall-clock time while their condition holds
// continuously. The clock is injected and read through time.Time's monotonic
// reading, and any negative delta from a misbehaving source is clamped to
// zero rather than allowed to corrupt the state.
type Aggregator struct {
	state State
	now   func() time.Time

	// Open-interval marks. A nil mark means the condition is false.
	faceLostAt      *time.Time
	attentionLostAt *time.Time
}

// NewAggregator creates an aggregator over a zero State. now may be nil, in
// which case time.Now is used.
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// Apply folds one event into the state and returns a snapshot. Discrete
// events increment their counter by exactly one regardless of payload;
// condition transitions open or close accrual intervals. A condition that
// is already in the signalled phase is left untouched, so flicker cannot
// double-count overlapping intervals.
func (a *Aggregator) Apply(ev Event) State {
	now := a.now()
	a.flush(now)

	switch ev.Type {
	case EventTabSwitch:
		a.state.TabSwitches++
	case EventFullscreenExit:
		a.state.FullscreenExits++
	case EventMultipleFaces:
		a.state.MultipleFacesCount++
	case EventSuspicious:
		a.state.SuspiciousEvents++
	case EventFaceLost:
		if a.faceLostAt == nil {
			t := now
			a.faceLostAt = &t
		}
	case EventFaceFound:
		a.faceLostAt = nil
	case EventAttentionLost:
		if a.attentionLostAt == nil {
			t := now
			a.attentionLostAt = &t
		}
	case EventAttentionRegained:
		a.attentionLostAt = nil
	}

	return a.state.Clone()
}

// flush accrues elapsed time for open conditions up to now and advances the
// marks, so snapshots and scores always see current durations without
// waiting for the condition to end.
func (a *Aggregator) flush(now time.Time) {
	if a.faceLostAt != nil {
		a.state.NoFaceDuration += clampDelta(now.Sub(*a.faceLostAt))
		*a.faceLostAt = now
	}
	if a.attentionLostAt != nil {
		a.state.AttentionAwayDuration += clampDelta(now.Sub(*a.attentionLostAt))
		*a.attentionLostAt = now
	}
}

func clampDelta(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot flushes open intervals and returns a copy of the state.
func (a *Aggregator) Snapshot() State {
	a.flush(a.now())
	return a.state.Clone()
}

// Mutate gives the scoring engine and policy sequenced write access to the
// derived fields. The caller must not decrement counters or clear flags;
// the aggregator stays the single entry point for raw signals.
func (a *Aggregator) Mutate(fn func(*State)) State {
	fn(&a.state)
	return a.state.Clone()
}
