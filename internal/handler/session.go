// Package handler exposes the monitor's HTTP surface: session lifecycle,
// event intake, snapshots, and the persisted records, plus the evidence
// chain for reviewers.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examtrust/proctor/internal/evidence"
	"github.com/examtrust/proctor/internal/monitor"
	"github.com/examtrust/proctor/internal/policy"
	"github.com/examtrust/proctor/internal/record"
	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/token"
)

// SessionHandler handles HTTP requests for proctored sessions.
type SessionHandler struct {
	mgr      *monitor.Manager
	issuer   *token.Issuer
	records  record.Store
	evidence evidence.Log
	logger   *zap.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(mgr *monitor.Manager, issuer *token.Issuer, records record.Store, log evidence.Log, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{mgr: mgr, issuer: issuer, records: records, evidence: log, logger: logger}
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.POST("/:id/events", token.RequireSession(h.issuer), h.SubmitEvent)
		sessions.POST("/:id/heartbeat", token.RequireSession(h.issuer), h.Heartbeat)
		sessions.GET("/:id", token.RequireSession(h.issuer), h.GetSnapshot)
		sessions.POST("/:id/finish", token.RequireSession(h.issuer), h.FinishSession)
		sessions.GET("/:id/record", h.GetRecord)
		sessions.GET("/:id/evidence", h.GetEvidence)
		sessions.GET("/:id/evidence/verify", h.VerifyEvidence)
	}
	rg.GET("/exams/:examId/records", h.ListRecords)
}

// stateView is the wire shape of a session snapshot. Durations go out in
// seconds, matching the record contract.
type stateView struct {
	TabSwitches           int      `json:"tabSwitches"`
	FullscreenExits       int      `json:"fullscreenExits"`
	NoFaceDuration        float64  `json:"noFaceDuration"`
	MultipleFacesCount    int      `json:"multipleFacesCount"`
	AttentionAwayDuration float64  `json:"attentionAwayDuration"`
	SuspiciousEvents      int      `json:"suspiciousEvents"`
	RiskScore             int      `json:"riskScore"`
	Flagged               bool     `json:"flagged"`
	FlagReasons           []string `json:"flagReasons"`
	Warnings              int      `json:"warnings"`
}

func viewOf(st session.State) stateView {
	return stateView{
		TabSwitches:           st.TabSwitches,
		FullscreenExits:       st.FullscreenExits,
		NoFaceDuration:        st.NoFaceDuration.Seconds(),
		MultipleFacesCount:    st.MultipleFacesCount,
		AttentionAwayDuration: st.AttentionAwayDuration.Seconds(),
		SuspiciousEvents:      st.SuspiciousEvents,
		RiskScore:             st.RiskScore,
		Flagged:               st.Flagged,
		FlagReasons:           st.FlagReasons,
		Warnings:              st.Warnings,
	}
}

// outcomeView wraps a pipeline outcome for event and heartbeat responses.
type outcomeView struct {
	State       stateView           `json:"state"`
	Warnings    []policy.Warning    `json:"warnings,omitempty"`
	Termination *policy.Termination `json:"termination,omitempty"`
}

func viewOfOutcome(out monitor.Outcome) outcomeView {
	return outcomeView{
		State:       viewOf(out.State),
		Warnings:    out.Warnings,
		Termination: out.Termination,
	}
}

type startSessionRequest struct {
	ExamID      string `json:"examId" binding:"required"`
	CandidateID string `json:"candidateId" binding:"required"`
	AccessCode  string `json:"accessCode" binding:"required"`
}

// StartSession handles POST /sessions.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "examId, candidateId and accessCode are required"})
		return
	}

	s, signed, err := h.mgr.StartSession(c.Request.Context(), req.ExamID, req.CandidateID, req.AccessCode)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrExamNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
		case errors.Is(err, monitor.ErrInvalidAccessCode):
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid access code"})
		default:
			h.logger.Error("start session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": s.ID,
		"examId":    s.ExamID,
		"startedAt": s.StartedAt,
		"token":     signed,
	})
}

type submitEventRequest struct {
	Type   string `json:"type" binding:"required"`
	Detail string `json:"detail"`
}

// SubmitEvent handles POST /sessions/:id/events.
func (h *SessionHandler) SubmitEvent(c *gin.Context) {
	sessionID, ok := h.sessionFromToken(c)
	if !ok {
		return
	}

	var req submitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	evType, err := session.ParseEventType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.mgr.ProcessEvent(c.Request.Context(), sessionID, session.Event{Type: evType, Detail: req.Detail})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	RecordEvent(string(evType))
	recordOutcome(out)
	c.JSON(http.StatusOK, viewOfOutcome(out))
}

// Heartbeat handles POST /sessions/:id/heartbeat.
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	sessionID, ok := h.sessionFromToken(c)
	if !ok {
		return
	}

	out, err := h.mgr.Heartbeat(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	recordOutcome(out)
	c.JSON(http.StatusOK, viewOfOutcome(out))
}

// recordOutcome counts the consequences a pipeline pass raised.
func recordOutcome(out monitor.Outcome) {
	for range out.Warnings {
		RecordWarning()
	}
	if out.Termination != nil {
		RecordTermination()
	}
}

// GetSnapshot handles GET /sessions/:id.
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionFromToken(c)
	if !ok {
		return
	}

	s, err := h.mgr.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(s.Monitor().Snapshot()))
}

// FinishSession handles POST /sessions/:id/finish — ends the session and
// returns its persisted record.
func (h *SessionHandler) FinishSession(c *gin.Context) {
	sessionID, ok := h.sessionFromToken(c)
	if !ok {
		return
	}

	rec, err := h.mgr.EndSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, monitor.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("finish session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finish session"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetRecord handles GET /sessions/:id/record.
func (h *SessionHandler) GetRecord(c *gin.Context) {
	sessionID, ok := h.parseID(c)
	if !ok {
		return
	}

	rec, err := h.records.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		h.logger.Error("get record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListRecords handles GET /exams/:examId/records. ?flagged=true narrows to
// sessions needing human review.
func (h *SessionHandler) ListRecords(c *gin.Context) {
	flaggedOnly := c.Query("flagged") == "true"
	recs, err := h.records.ListByExam(c.Request.Context(), c.Param("examId"), flaggedOnly)
	if err != nil {
		h.logger.Error("list records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// GetEvidence handles GET /sessions/:id/evidence — returns the session's
// evidence chain in order.
func (h *SessionHandler) GetEvidence(c *gin.Context) {
	sessionID, ok := h.parseID(c)
	if !ok {
		return
	}

	entries, err := h.evidence.Entries(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("evidence entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query evidence log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// VerifyEvidence handles GET /sessions/:id/evidence/verify — walks the
// session's chain and reports integrity.
func (h *SessionHandler) VerifyEvidence(c *gin.Context) {
	sessionID, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.evidence.Verify(c.Request.Context(), sessionID); err != nil {
		h.logger.Warn("evidence integrity check failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// parseID parses the :id path parameter.
func (h *SessionHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// sessionFromToken parses the :id parameter and checks it against the
// verified token claims, so one session's token cannot touch another.
func (h *SessionHandler) sessionFromToken(c *gin.Context) (uuid.UUID, bool) {
	id, ok := h.parseID(c)
	if !ok {
		return uuid.Nil, false
	}
	claims := token.ClaimsFromCtx(c)
	if claims == nil || claims.SessionID != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not match session"})
		return uuid.Nil, false
	}
	return id, true
}
