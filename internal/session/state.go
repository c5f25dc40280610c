// Package session holds the per-attempt proctoring state and the signal
// aggregator that is its single writer. Detection collaborators (face
// detector, tab-visibility listener, fullscreen listener) emit discrete
// events; the aggregator folds them into monotone counters and durations
// that the scoring engine and warning policy read.
package session

import (
	"fmt"
	"time"
)

// EventType identifies a raw behavioral signal.
type EventType string

const (
	// Discrete-count events: +1 per event, payload ignored.
	EventTabSwitch      EventType = "tab_switch"
	EventFullscreenExit EventType = "fullscreen_exit"
	EventMultipleFaces  EventType = "multiple_faces"
	EventSuspicious     EventType = "suspicious"

	// Continuous-condition transitions driving the duration signals.
	EventFaceLost          EventType = "face_lost"
	EventFaceFound         EventType = "face_found"
	EventAttentionLost     EventType = "attention_lost"
	EventAttentionRegained EventType = "attention_regained"
)

// ParseEventType validates a wire-format event type.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventTabSwitch, EventFullscreenExit, EventMultipleFaces, EventSuspicious,
		EventFaceLost, EventFaceFound, EventAttentionLost, EventAttentionRegained:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Event is one signal from a detection collaborator.
type Event struct {
	Type EventType `json:"type"`
	// Detail is free-form collaborator context, carried into the evidence
	// log but never used for decisions.
	Detail string `json:"detail,omitempty"`
}

// State is the accumulated proctoring state of one exam attempt. Counters
// and durations never decrease; Flagged never reverts; RiskScore is always
// recomputed from the rest, never a source of truth of its own.
type State struct {
	TabSwitches        int `json:"tabSwitches"`
	FullscreenExits    int `json:"fullscreenExits"`
	MultipleFacesCount int `json:"multipleFacesCount"`
	SuspiciousEvents   int `json:"suspiciousEvents"`

	NoFaceDuration        time.Duration `json:"noFaceDuration"`
	AttentionAwayDuration time.Duration `json:"attentionAwayDuration"`

	RiskScore   int      `json:"riskScore"`
	Flagged     bool     `json:"flagged"`
	FlagReasons []string `json:"flagReasons"`
	Warnings    int      `json:"warnings"`
}

// Clone returns a deep copy safe to hand outside the aggregator's lock.
func (s State) Clone() State {
	out := s
	out.FlagReasons = append([]string(nil), s.FlagReasons...)
	return out
}

// AddFlagReason appends reason unless already present and returns whether it
// was new. FlagReasons is an append-only ordered set.
func (s *State) AddFlagReason(reason string) bool {
	for _, r := range s.FlagReasons {
		if r == reason {
			return false
		}
	}
	s.FlagReasons = append(s.FlagReasons, reason)
	return true
}
