package session

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic duration tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) rewind(d time.Duration)  { c.t = c.t.Add(-d) }

func TestApply_discreteCountsIncrementByOne(t *testing.T) {
	a := NewAggregator(nil)

	a.Apply(Event{Type: EventTabSwitch, Detail: "visibilitychange"})
	a.Apply(Event{Type: EventTabSwitch})
	a.Apply(Event{Type: EventFullscreenExit})
	a.Apply(Event{Type: EventMultipleFaces})
	st := a.Apply(Event{Type: EventSuspicious})

	if st.TabSwitches != 2 {
		t.Errorf("TabSwitches = %d, want 2", st.TabSwitches)
	}
	if st.FullscreenExits != 1 || st.MultipleFacesCount != 1 || st.SuspiciousEvents != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1",
			st.FullscreenExits, st.MultipleFacesCount, st.SuspiciousEvents)
	}
}

func TestApply_durationAccrual(t *testing.T) {
	clk := newFakeClock()
	a := NewAggregator(clk.now)

	a.Apply(Event{Type: EventFaceLost})
	clk.advance(7 * time.Second)
	st := a.Apply(Event{Type: EventFaceFound})

	if st.NoFaceDuration != 7*time.Second {
		t.Errorf("NoFaceDuration = %s, want 7s", st.NoFaceDuration)
	}

	// Closed condition accrues nothing further.
	clk.advance(30 * time.Second)
	if st = a.Snapshot(); st.NoFaceDuration != 7*time.Second {
		t.Errorf("NoFaceDuration after close = %s, want 7s", st.NoFaceDuration)
	}
}

func TestApply_openConditionVisibleInSnapshot(t *testing.T) {
	clk := newFakeClock()
	a := NewAggregator(clk.now)

	a.Apply(Event{Type: EventAttentionLost})
	clk.advance(5 * time.Second)

	if st := a.Snapshot(); st.AttentionAwayDuration != 5*time.Second {
		t.Errorf("open interval not flushed: %s, want 5s", st.AttentionAwayDuration)
	}
	clk.advance(3 * time.Second)
	if st := a.Snapshot(); st.AttentionAwayDuration != 8*time.Second {
		t.Errorf("continued accrual = %s, want 8s", st.AttentionAwayDuration)
	}
}

func TestApply_flickerDoesNotDoubleCount(t *testing.T) {
	clk := newFakeClock()
	a := NewAggregator(clk.now)

	// Duplicate face_lost while the condition is already open must not
	// reset or double the interval.
	a.Apply(Event{Type: EventFaceLost})
	clk.advance(4 * time.Second)
	a.Apply(Event{Type: EventFaceLost})
	clk.advance(4 * time.Second)
	st := a.Apply(Event{Type: EventFaceFound})

	if st.NoFaceDuration != 8*time.Second {
		t.Errorf("NoFaceDuration = %s, want 8s", st.NoFaceDuration)
	}

	// Duplicate face_found is a no-op.
	clk.advance(10 * time.Second)
	if st = a.Apply(Event{Type: EventFaceFound}); st.NoFaceDuration != 8*time.Second {
		t.Errorf("NoFaceDuration = %s, want 8s after duplicate close", st.NoFaceDuration)
	}
}

func TestApply_negativeClockDeltaClamped(t *testing.T) {
	clk := newFakeClock()
	a := NewAggregator(clk.now)

	a.Apply(Event{Type: EventFaceLost})
	clk.rewind(time.Minute) // misbehaving clock source
	st := a.Apply(Event{Type: EventFaceFound})

	if st.NoFaceDuration != 0 {
		t.Errorf("NoFaceDuration = %s, want 0 (negative delta clamped)", st.NoFaceDuration)
	}
}

func TestApply_everySequenceIsMonotone(t *testing.T) {
	clk := newFakeClock()
	a := NewAggregator(clk.now)

	seq := []EventType{
		EventFaceLost, EventTabSwitch, EventFaceFound, EventFaceLost,
		EventAttentionLost, EventFullscreenExit, EventMultipleFaces,
		EventFaceFound, EventSuspicious, EventAttentionRegained,
		EventTabSwitch, EventFaceLost, EventFaceFound,
	}

	prev := a.Snapshot()
	for _, et := range seq {
		clk.advance(3 * time.Second)
		cur := a.Apply(Event{Type: et})
		if cur.TabSwitches < prev.TabSwitches ||
			cur.FullscreenExits < prev.FullscreenExits ||
			cur.MultipleFacesCount < prev.MultipleFacesCount ||
			cur.SuspiciousEvents < prev.SuspiciousEvents ||
			cur.NoFaceDuration < prev.NoFaceDuration ||
			cur.AttentionAwayDuration < prev.AttentionAwayDuration {
			t.Fatalf("state regressed after %s: %+v -> %+v", et, prev, cur)
		}
		prev = cur
	}
}

func TestParseEventType(t *testing.T) {
	if _, err := ParseEventType("tab_switch"); err != nil {
		t.Errorf("tab_switch should parse: %v", err)
	}
	if _, err := ParseEventType("keyboard_smash"); err == nil {
		t.Error("unknown event type should not parse")
	}
}

func TestAddFlagReason_orderedSetNoDuplicates(t *testing.T) {
	var s State
	if !s.AddFlagReason("a") {
		t.Error("first append should report new")
	}
	if s.AddFlagReason("a") {
		t.Error("duplicate append should report existing")
	}
	s.AddFlagReason("b")
	if len(s.FlagReasons) != 2 || s.FlagReasons[0] != "a" || s.FlagReasons[1] != "b" {
		t.Errorf("FlagReasons = %v, want [a b]", s.FlagReasons)
	}
}
