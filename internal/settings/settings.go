// Package settings holds the per-exam proctoring configuration consumed by
// the monitoring pipeline. Settings are supplied once at session start and
// treated as immutable for the session's lifetime; components receive them
// explicitly through constructors rather than reading ambient global state,
// so parallel test sessions stay deterministic.
package settings

import (
	"fmt"
	"time"
)

// Proctoring is the exam owner's tolerance configuration. The zero value is
// not usable; call Validate before handing it to the pipeline.
type Proctoring struct {
	// RequireWebcam marks the exam as camera-proctored. When set, a second
	// person in frame is a hard integrity violation.
	RequireWebcam bool `json:"requireWebcam" mapstructure:"require_webcam"`

	// AllowedTabSwitches is the number of tab switches tolerated before the
	// candidate is warned. Zero means any switch breaches.
	AllowedTabSwitches int `json:"allowedTabSwitches" mapstructure:"allowed_tab_switches"`

	// FaceMissingTolerance is how long the candidate's face may be out of
	// frame before the absence counts against them.
	FaceMissingTolerance time.Duration `json:"faceMissingTolerance" mapstructure:"face_missing_tolerance"`

	// AttentionTimeout is how long the candidate may look away before
	// attention drift counts against them.
	AttentionTimeout time.Duration `json:"attentionTimeout" mapstructure:"attention_timeout"`

	// MaxWarnings is the number of warnings after which the session is
	// force-terminated. Must be at least 1.
	MaxWarnings int `json:"maxWarnings" mapstructure:"max_warnings"`

	// FullscreenRequired makes leaving fullscreen a policy breach.
	FullscreenRequired bool `json:"fullscreenRequired" mapstructure:"fullscreen_required"`

	// AllowedSuspiciousEvents is the number of generic suspicious events
	// tolerated before warning.
	AllowedSuspiciousEvents int `json:"allowedSuspiciousEvents" mapstructure:"allowed_suspicious_events"`

	// AutoSubmitOnTimeout tells the host application to force-submit the
	// attempt immediately when a terminate decision is issued.
	AutoSubmitOnTimeout bool `json:"autoSubmitOnTimeout" mapstructure:"auto_submit_on_timeout"`
}

// DefaultProctoring returns the settings applied when the exam owner has not
// configured anything stricter.
func DefaultProctoring() Proctoring {
	return Proctoring{
		RequireWebcam:           true,
		AllowedTabSwitches:      2,
		FaceMissingTolerance:    15 * time.Second,
		AttentionTimeout:        20 * time.Second,
		MaxWarnings:             3,
		FullscreenRequired:      true,
		AllowedSuspiciousEvents: 2,
		AutoSubmitOnTimeout:     true,
	}
}

// Validate reports the first invalid field, if any.
func (p Proctoring) Validate() error {
	if p.AllowedTabSwitches < 0 {
		return fmt.Errorf("allowed_tab_switches must be >= 0, got %d", p.AllowedTabSwitches)
	}
	if p.FaceMissingTolerance < 0 {
		return fmt.Errorf("face_missing_tolerance must be >= 0, got %s", p.FaceMissingTolerance)
	}
	if p.AttentionTimeout < 0 {
		return fmt.Errorf("attention_timeout must be >= 0, got %s", p.AttentionTimeout)
	}
	if p.MaxWarnings < 1 {
		return fmt.Errorf("max_warnings must be >= 1, got %d", p.MaxWarnings)
	}
	if p.AllowedSuspiciousEvents < 0 {
		return fmt.Errorf("allowed_suspicious_events must be >= 0, got %d", p.AllowedSuspiciousEvents)
	}
	return nil
}

// RiskThresholds partitions the 0–100 risk score into severity bands.
// Low < Medium < High must hold strictly.
type RiskThresholds struct {
	Low    int `json:"low" mapstructure:"low"`
	Medium int `json:"medium" mapstructure:"medium"`
	High   int `json:"high" mapstructure:"high"`
}

// DefaultRiskThresholds returns the stock banding.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Low: 25, Medium: 50, High: 75}
}

// Validate checks range and strict ordering.
func (t RiskThresholds) Validate() error {
	for _, v := range []struct {
		name string
		val  int
	}{{"low", t.Low}, {"medium", t.Medium}, {"high", t.High}} {
		if v.val < 0 || v.val > 100 {
			return fmt.Errorf("threshold %s out of range [0,100]: %d", v.name, v.val)
		}
	}
	if !(t.Low < t.Medium && t.Medium < t.High) {
		return fmt.Errorf("thresholds must be strictly increasing: %d/%d/%d", t.Low, t.Medium, t.High)
	}
	return nil
}

// Band is the severity label derived from a risk score. Banding is for
// reporting only; it never drives state mutation by itself.
type Band string

const (
	BandNone   Band = "none"
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Band maps a 0–100 score onto a severity label.
func (t RiskThresholds) Band(score int) Band {
	switch {
	case score >= t.High:
		return BandHigh
	case score >= t.Medium:
		return BandMedium
	case score >= t.Low:
		return BandLow
	default:
		return BandNone
	}
}

// Weights is the score contribution of each signal at 100% of its configured
// tolerance. The weighting scheme is policy, not a constant: exam owners may
// tune it, and the shipped defaults weight absence-of-face and a second
// person in frame well above a single tab switch.
type Weights struct {
	TabSwitch      int `json:"tabSwitch" mapstructure:"tab_switch"`
	FullscreenExit int `json:"fullscreenExit" mapstructure:"fullscreen_exit"`
	NoFace         int `json:"noFace" mapstructure:"no_face"`
	MultipleFaces  int `json:"multipleFaces" mapstructure:"multiple_faces"`
	AttentionAway  int `json:"attentionAway" mapstructure:"attention_away"`
	Suspicious     int `json:"suspicious" mapstructure:"suspicious"`
}

// DefaultWeights returns the stock weighting. The sum intentionally exceeds
// 100; the engine caps the combined score.
func DefaultWeights() Weights {
	return Weights{
		TabSwitch:      10,
		FullscreenExit: 10,
		NoFace:         35,
		MultipleFaces:  30,
		AttentionAway:  15,
		Suspicious:     15,
	}
}

// Validate rejects negative weights and all-zero weight sets.
func (w Weights) Validate() error {
	sum := 0
	for _, v := range []int{w.TabSwitch, w.FullscreenExit, w.NoFace, w.MultipleFaces, w.AttentionAway, w.Suspicious} {
		if v < 0 {
			return fmt.Errorf("weights must be >= 0")
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}
