// Package record defines the session record produced at session end — the
// contract the host persistence layer stores verbatim — and the stores that
// keep it. Field names in the JSON shape follow the host contract exactly.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/examtrust/proctor/internal/session"
)

// ErrNotFound is returned when no record exists for a session.
var ErrNotFound = errors.New("session record not found")

// SessionRecord is the persisted proctoring outcome of one exam attempt.
// Durations are carried in seconds, matching the host contract.
type SessionRecord struct {
	SessionID   uuid.UUID `json:"sessionId"`
	ExamID      string    `json:"examId"`
	CandidateID string    `json:"candidateId"`

	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`

	TabSwitches           int     `json:"tabSwitches"`
	FullscreenExits       int     `json:"fullscreenExits"`
	NoFaceDuration        float64 `json:"noFaceDuration"`
	MultipleFacesCount    int     `json:"multipleFacesCount"`
	AttentionAwayDuration float64 `json:"attentionAwayDuration"`
	SuspiciousEvents      int     `json:"suspiciousEvents"`

	RiskScore   int      `json:"riskScore"`
	Flagged     bool     `json:"flagged"`
	FlagReasons []string `json:"flagReasons"`
	Warnings    int      `json:"warnings"`
	Terminated  bool     `json:"terminated"`
}

// FromState builds the record for a finished session.
func FromState(sessionID uuid.UUID, examID, candidateID string, startedAt, endedAt time.Time, st session.State, terminated bool) *SessionRecord {
	return &SessionRecord{
		SessionID:   sessionID,
		ExamID:      examID,
		CandidateID: candidateID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,

		TabSwitches:           st.TabSwitches,
		FullscreenExits:       st.FullscreenExits,
		NoFaceDuration:        st.NoFaceDuration.Seconds(),
		MultipleFacesCount:    st.MultipleFacesCount,
		AttentionAwayDuration: st.AttentionAwayDuration.Seconds(),
		SuspiciousEvents:      st.SuspiciousEvents,

		RiskScore:   st.RiskScore,
		Flagged:     st.Flagged,
		FlagReasons: append([]string(nil), st.FlagReasons...),
		Warnings:    st.Warnings,
		Terminated:  terminated,
	}
}

// Store persists finished session records.
type Store interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, sessionID uuid.UUID) (*SessionRecord, error)
	// ListByExam returns records for an exam, newest first. flaggedOnly
	// narrows to sessions needing human review.
	ListByExam(ctx context.Context, examID string, flaggedOnly bool) ([]*SessionRecord, error)
}
