package risk

import (
	"testing"
	"time"

	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
)

func newEngine() *Engine {
	return NewEngine(settings.DefaultProctoring(), settings.DefaultRiskThresholds(), settings.DefaultWeights())
}

func TestScore_cleanSessionIsZero(t *testing.T) {
	if got := newEngine().Score(session.State{}); got != 0 {
		t.Errorf("Score(zero state) = %d, want 0", got)
	}
}

func TestScore_deterministicAndIdempotent(t *testing.T) {
	e := newEngine()
	st := session.State{
		TabSwitches:    3,
		NoFaceDuration: 9 * time.Second,
	}

	first := e.Score(st)
	second := e.Score(st)
	if first != second {
		t.Errorf("same inputs scored differently: %d vs %d", first, second)
	}

	// Evaluate twice over an unchanged state must not move the score or
	// grow the reasons.
	e.Evaluate(&st)
	score, reasons := st.RiskScore, len(st.FlagReasons)
	e.Evaluate(&st)
	if st.RiskScore != score || len(st.FlagReasons) != reasons {
		t.Errorf("no-op re-evaluation changed state: score %d->%d, reasons %d->%d",
			score, st.RiskScore, reasons, len(st.FlagReasons))
	}
}

func TestScore_boundedAt100(t *testing.T) {
	e := newEngine()
	st := session.State{
		TabSwitches:           50,
		FullscreenExits:       50,
		MultipleFacesCount:    10,
		SuspiciousEvents:      50,
		NoFaceDuration:        time.Hour,
		AttentionAwayDuration: time.Hour,
	}
	if got := e.Score(st); got != 100 {
		t.Errorf("saturated score = %d, want 100", got)
	}
}

func TestScore_faceSignalsOutweighTabSwitch(t *testing.T) {
	e := newEngine()
	oneSwitch := e.Score(session.State{TabSwitches: 1})
	faceGone := e.Score(session.State{NoFaceDuration: time.Minute})
	if faceGone <= oneSwitch {
		t.Errorf("prolonged face absence (%d) should outweigh one tab switch (%d)", faceGone, oneSwitch)
	}
}

func TestScore_zeroToleranceSaturatesOnFirstOccurrence(t *testing.T) {
	cfg := settings.DefaultProctoring()
	cfg.AllowedTabSwitches = 0
	e := NewEngine(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights())

	one := e.Score(session.State{TabSwitches: 1})
	many := e.Score(session.State{TabSwitches: 9})
	if one != many {
		t.Errorf("zero tolerance: 1 switch scored %d, 9 switches %d; want equal saturation", one, many)
	}
	if one == 0 {
		t.Error("zero tolerance: a single switch must contribute")
	}
}

func TestEvaluate_multipleFacesHardCapFlagsRegardlessOfBand(t *testing.T) {
	e := newEngine()
	st := session.State{MultipleFacesCount: 1}

	e.Evaluate(&st)

	if !st.Flagged {
		t.Fatal("second person in frame must flag the session")
	}
	if !hasReason(st, ReasonMultipleFaces) {
		t.Errorf("FlagReasons = %v, want to contain %q", st.FlagReasons, ReasonMultipleFaces)
	}
	if st.RiskScore >= settings.DefaultRiskThresholds().High {
		t.Fatalf("setup error: score %d reached the high band, hard-cap path not isolated", st.RiskScore)
	}
}

func TestEvaluate_multipleFacesIgnoredWithoutWebcamRequirement(t *testing.T) {
	cfg := settings.DefaultProctoring()
	cfg.RequireWebcam = false
	e := NewEngine(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights())

	st := session.State{MultipleFacesCount: 1}
	e.Evaluate(&st)
	if hasReason(st, ReasonMultipleFaces) {
		t.Error("multiple-faces hard cap should not apply when no webcam is required")
	}
}

func TestEvaluate_highBandFlags(t *testing.T) {
	e := newEngine()
	st := session.State{
		NoFaceDuration:        time.Minute,
		AttentionAwayDuration: time.Minute,
		TabSwitches:           3,
		SuspiciousEvents:      3,
		FullscreenExits:       1,
	}
	e.Evaluate(&st)
	if st.RiskScore < settings.DefaultRiskThresholds().High {
		t.Fatalf("setup error: score %d below high threshold", st.RiskScore)
	}
	if !st.Flagged || !hasReason(st, ReasonHighRisk) {
		t.Errorf("high-band score must flag with %q, got %v", ReasonHighRisk, st.FlagReasons)
	}
}

func TestEvaluate_hardCapDoubleTolerance(t *testing.T) {
	e := newEngine() // allowed tab switches: 2

	st := session.State{TabSwitches: 4}
	e.Evaluate(&st)
	if hasReason(st, ReasonTabSwitchHardCap) {
		t.Error("4 switches with tolerance 2 is not over twice the limit")
	}

	st = session.State{TabSwitches: 5}
	e.Evaluate(&st)
	if !st.Flagged || !hasReason(st, ReasonTabSwitchHardCap) {
		t.Errorf("5 switches with tolerance 2 must hard-cap flag, got %v", st.FlagReasons)
	}
}

func TestEvaluate_flagIsOneWay(t *testing.T) {
	e := newEngine()
	st := session.State{MultipleFacesCount: 1}
	e.Evaluate(&st)
	if !st.Flagged {
		t.Fatal("expected flag")
	}

	// Re-evaluating the same monotone state can never clear the flag.
	e.Evaluate(&st)
	e.Evaluate(&st)
	if !st.Flagged {
		t.Error("Flagged reverted on re-evaluation")
	}
}

func hasReason(st session.State, want string) bool {
	for _, r := range st.FlagReasons {
		if r == want {
			return true
		}
	}
	return false
}
