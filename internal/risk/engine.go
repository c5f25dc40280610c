// Package risk turns accumulated session signals into a bounded 0–100 risk
// score and a set of flag reasons. Scoring is pure computation over
// already-validated inputs: the same counters and settings always yield the
// same score, and evaluation after a no-op event sequence changes nothing.
package risk

import (
	"math"
	"time"

	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
)

// Flag reasons are stable strings: they end up in the persisted record the
// proctor reviews, so they are written for humans and never parsed.
const (
	ReasonHighRisk          = "risk score crossed the high threshold"
	ReasonMultipleFaces     = "multiple faces detected in frame"
	ReasonTabSwitchHardCap  = "tab switches exceeded twice the allowed limit"
	ReasonFullscreenHardCap = "fullscreen exits exceeded twice the allowed limit"
	ReasonNoFaceHardCap     = "face missing for over twice the tolerated time"
	ReasonAttentionHardCap  = "attention away for over twice the tolerated time"
	ReasonSuspiciousHardCap = "suspicious events exceeded twice the allowed limit"
)

// Engine scores one session. Built once per session from that session's
// immutable settings; safe for concurrent reads since it never mutates.
type Engine struct {
	cfg        settings.Proctoring
	thresholds settings.RiskThresholds
	weights    settings.Weights
}

// NewEngine creates an Engine. Inputs must already be validated.
func NewEngine(cfg settings.Proctoring, thresholds settings.RiskThresholds, weights settings.Weights) *Engine {
	return &Engine{cfg: cfg, thresholds: thresholds, weights: weights}
}

// Score computes the deterministic risk score for st.
//
// Each signal is normalized against its configured tolerance and clamped to
// [0,1]; a zero tolerance means any occurrence saturates the signal. The
// score is the weighted sum of the normalized signals, rounded and capped at
// 100. Weights are session configuration (settings.Weights), defaulting to
// face-related signals dominating a single tab switch.
func (e *Engine) Score(st session.State) int {
	sum := 0.0
	sum += float64(e.weights.TabSwitch) * normCount(st.TabSwitches, e.cfg.AllowedTabSwitches)
	sum += float64(e.weights.FullscreenExit) * normCount(st.FullscreenExits, fullscreenTolerance(e.cfg))
	sum += float64(e.weights.MultipleFaces) * normCount(st.MultipleFacesCount, 0)
	sum += float64(e.weights.Suspicious) * normCount(st.SuspiciousEvents, e.cfg.AllowedSuspiciousEvents)
	sum += float64(e.weights.NoFace) * normDuration(st.NoFaceDuration, e.cfg.FaceMissingTolerance)
	sum += float64(e.weights.AttentionAway) * normDuration(st.AttentionAwayDuration, e.cfg.AttentionTimeout)

	score := int(math.Round(sum))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Band reports the severity band of a score. Reporting only.
func (e *Engine) Band(score int) settings.Band {
	return e.thresholds.Band(score)
}

// Evaluate recomputes the score and applies the flagging rules to st.
// Flagged is one-way: once set it never reverts. A session flags when the
// score reaches the high threshold, when a second person appears in a
// webcam-required exam, or when any single counter breaches twice its
// tolerance outright. Each reason is appended to FlagReasons the first time
// it applies.
func (e *Engine) Evaluate(st *session.State) {
	st.RiskScore = e.Score(*st)

	if st.RiskScore >= e.thresholds.High {
		e.flag(st, ReasonHighRisk)
	}
	if e.cfg.RequireWebcam && st.MultipleFacesCount > 0 {
		e.flag(st, ReasonMultipleFaces)
	}
	if hardCapCount(st.TabSwitches, e.cfg.AllowedTabSwitches) {
		e.flag(st, ReasonTabSwitchHardCap)
	}
	if e.cfg.FullscreenRequired && hardCapCount(st.FullscreenExits, fullscreenTolerance(e.cfg)) {
		e.flag(st, ReasonFullscreenHardCap)
	}
	if hardCapDuration(st.NoFaceDuration, e.cfg.FaceMissingTolerance) {
		e.flag(st, ReasonNoFaceHardCap)
	}
	if hardCapDuration(st.AttentionAwayDuration, e.cfg.AttentionTimeout) {
		e.flag(st, ReasonAttentionHardCap)
	}
	if hardCapCount(st.SuspiciousEvents, e.cfg.AllowedSuspiciousEvents) {
		e.flag(st, ReasonSuspiciousHardCap)
	}
}

func (e *Engine) flag(st *session.State, reason string) {
	st.Flagged = true
	st.AddFlagReason(reason)
}

// fullscreenTolerance: leaving fullscreen is only a signal when the exam
// requires fullscreen, and then no exits are tolerated.
func fullscreenTolerance(cfg settings.Proctoring) int {
	if cfg.FullscreenRequired {
		return 0
	}
	return -1 // signal disabled
}

// normCount normalizes a counter against its tolerance. Tolerance semantics:
// n <= tol contributes proportionally, n > tol saturates at 1. tol == 0
// means any occurrence saturates; tol < 0 disables the signal.
func normCount(n, tol int) float64 {
	if tol < 0 || n <= 0 {
		return 0
	}
	if tol == 0 || n > tol {
		return 1
	}
	return float64(n) / float64(tol+1)
}

func normDuration(d, tol time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	if tol <= 0 || d >= tol {
		return 1
	}
	return float64(d) / float64(tol)
}

// hardCapCount reports an outright breach: the counter exceeds twice its
// tolerance (tolerance zero: more than one occurrence).
func hardCapCount(n, tol int) bool {
	if tol < 0 {
		return false
	}
	if tol == 0 {
		return n > 1
	}
	return n > 2*tol
}

func hardCapDuration(d, tol time.Duration) bool {
	if tol <= 0 {
		return false
	}
	return d > 2*tol
}
