// Package policy decides the session's interactive consequences: visible
// warnings and the terminate decision. Flagging (package risk) is the
// persistent audit signal; warnings are what the candidate experiences.
package policy

import (
	"fmt"

	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
)

// Breach names a monitored threshold. Each breach warns at most once per
// session: counters and durations are monotone, so a crossed threshold
// stays crossed and re-warning on every subsequent event would be noise.
type Breach string

const (
	BreachTabSwitches   Breach = "tab_switches"
	BreachFullscreen    Breach = "fullscreen_exit"
	BreachNoFace        Breach = "face_missing"
	BreachAttention     Breach = "attention_away"
	BreachMultipleFaces Breach = "multiple_faces"
	BreachSuspicious    Breach = "suspicious_events"
)

// breachOrder fixes the reason ordering in terminate decisions.
var breachOrder = []Breach{
	BreachTabSwitches, BreachFullscreen, BreachNoFace,
	BreachAttention, BreachMultipleFaces, BreachSuspicious,
}

// Warning is surfaced to the session UI; the candidate must acknowledge it.
type Warning struct {
	Breach  Breach `json:"breach"`
	Message string `json:"message"`
	// Number is the session's warning count after this warning.
	Number int `json:"number"`
}

// Termination is the force-submit decision. Emitted at most once per
// session; the host application must act on it immediately when AutoSubmit
// is set.
type Termination struct {
	Reasons    []string `json:"reasons"`
	AutoSubmit bool     `json:"autoSubmit"`
}

// Policy tracks which thresholds have already breached for one session.
// Not safe for concurrent use; the monitor serializes evaluations.
type Policy struct {
	cfg        settings.Proctoring
	breached   map[Breach]bool
	terminated bool
}

// New creates a Policy for one session.
func New(cfg settings.Proctoring) *Policy {
	return &Policy{cfg: cfg, breached: make(map[Breach]bool)}
}

// Evaluate inspects st for threshold crossings that are new since the last
// evaluation, increments st.Warnings once per new crossing, and returns the
// warnings raised now plus the terminate decision if the warning cap was
// reached by them. Warnings never decrement; a terminated session never
// un-terminates, and the decision is returned exactly once.
func (p *Policy) Evaluate(st *session.State) ([]Warning, *Termination) {
	var raised []Warning

	check := func(b Breach, crossed bool, msg string) {
		if !crossed || p.breached[b] {
			return
		}
		p.breached[b] = true
		st.Warnings++
		raised = append(raised, Warning{Breach: b, Message: msg, Number: st.Warnings})
	}

	check(BreachTabSwitches,
		st.TabSwitches > p.cfg.AllowedTabSwitches,
		fmt.Sprintf("You switched tabs %d times; only %d switches are allowed.", st.TabSwitches, p.cfg.AllowedTabSwitches))
	check(BreachFullscreen,
		p.cfg.FullscreenRequired && st.FullscreenExits > 0,
		"You left fullscreen mode. Return to fullscreen to continue the exam.")
	check(BreachNoFace,
		p.cfg.FaceMissingTolerance > 0 && st.NoFaceDuration > p.cfg.FaceMissingTolerance,
		"Your face has been out of frame for too long. Stay visible to the camera.")
	check(BreachAttention,
		p.cfg.AttentionTimeout > 0 && st.AttentionAwayDuration > p.cfg.AttentionTimeout,
		"You appear to be looking away from the screen for extended periods.")
	check(BreachMultipleFaces,
		p.cfg.RequireWebcam && st.MultipleFacesCount > 0,
		"More than one person was detected in frame. You must take the exam alone.")
	check(BreachSuspicious,
		st.SuspiciousEvents > p.cfg.AllowedSuspiciousEvents,
		"Suspicious activity was detected during your session.")

	if st.Warnings >= p.cfg.MaxWarnings && !p.terminated {
		p.terminated = true
		reasons := make([]string, 0, len(p.breached))
		for _, b := range breachOrder {
			if p.breached[b] {
				reasons = append(reasons, breachReason(b))
			}
		}
		return raised, &Termination{
			Reasons:    reasons,
			AutoSubmit: p.cfg.AutoSubmitOnTimeout,
		}
	}
	return raised, nil
}

// Terminated reports whether the terminate decision has been issued.
func (p *Policy) Terminated() bool { return p.terminated }

func breachReason(b Breach) string {
	switch b {
	case BreachTabSwitches:
		return "tab switch limit exceeded"
	case BreachFullscreen:
		return "left fullscreen mode"
	case BreachNoFace:
		return "face missing beyond tolerance"
	case BreachAttention:
		return "attention away beyond tolerance"
	case BreachMultipleFaces:
		return "multiple faces detected"
	case BreachSuspicious:
		return "suspicious activity limit exceeded"
	default:
		return string(b)
	}
}
