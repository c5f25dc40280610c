package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/examtrust/proctor/internal/evidence"
	"github.com/examtrust/proctor/internal/notify"
	"github.com/examtrust/proctor/internal/record"
	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
	"github.com/examtrust/proctor/internal/token"
)

var (
	// ErrExamNotFound means no exam is registered under the given ID.
	ErrExamNotFound = errors.New("exam not found")
	// ErrInvalidAccessCode covers both a wrong code and an exam without one.
	ErrInvalidAccessCode = errors.New("invalid access code")
	// ErrSessionNotFound means the session is unknown or already ended.
	ErrSessionNotFound = errors.New("session not found")
)

// Exam is a registered exam the manager can start sessions for. The access
// code is stored as a bcrypt hash; the plaintext only ever travels in the
// start-session request.
type Exam struct {
	ID             string
	AccessCodeHash string
	Settings       settings.Proctoring
	Thresholds     settings.RiskThresholds
	Weights        settings.Weights
}

// HashAccessCode bcrypt-hashes a plaintext exam access code for Exam
// registration.
func HashAccessCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash access code: %w", err)
	}
	return string(hash), nil
}

// Session is one live proctored attempt.
type Session struct {
	ID          uuid.UUID
	ExamID      string
	CandidateID string
	StartedAt   time.Time

	monitor *Monitor

	// lastHeartbeat is guarded by the manager's mutex.
	lastHeartbeat time.Time
}

// Monitor returns the session's pipeline.
func (s *Session) Monitor() *Monitor { return s.monitor }

// Config tunes the manager's watchdog.
type Config struct {
	// WatchdogInterval is how often silent sessions are scanned for.
	WatchdogInterval time.Duration
	// HeartbeatTimeout is how long a session may go without a heartbeat
	// before a synthetic suspicious event is injected.
	HeartbeatTimeout time.Duration
}

// MetricsRecordFunc is an optional callback recording the live session count.
type MetricsRecordFunc func(active int)

// Manager owns the live sessions. Starting a session verifies the exam
// access code and issues the session token; ending one persists the record
// and retires the monitor.
type Manager struct {
	mu       sync.RWMutex
	exams    map[string]Exam
	sessions map[uuid.UUID]*Session

	issuer   *token.Issuer
	evidence evidence.Log
	records  record.Store
	notifier notify.Notifier

	cfg       Config
	now       func() time.Time
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewManager creates a Manager. notifier may be nil when no destination is
// configured; now may be nil for the wall clock.
func NewManager(issuer *token.Issuer, log evidence.Log, records record.Store, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Manager {
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = 15 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNoopNotifier(logger)
	}
	return &Manager{
		exams:    make(map[string]Exam),
		sessions: make(map[uuid.UUID]*Session),
		issuer:   issuer,
		evidence: log,
		records:  records,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the manager's clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetMetricsRecord configures the live-session metrics callback.
func (m *Manager) SetMetricsRecord(fn MetricsRecordFunc) { m.onMetrics = fn }

// RegisterExam makes an exam startable. Settings are validated here so the
// pipeline never sees a bad configuration.
func (m *Manager) RegisterExam(e Exam) error {
	if e.ID == "" {
		return fmt.Errorf("exam ID is required")
	}
	if err := e.Settings.Validate(); err != nil {
		return fmt.Errorf("exam %s: %w", e.ID, err)
	}
	if err := e.Thresholds.Validate(); err != nil {
		return fmt.Errorf("exam %s: %w", e.ID, err)
	}
	if err := e.Weights.Validate(); err != nil {
		return fmt.Errorf("exam %s: %w", e.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

// StartSession verifies the exam access code, creates the session pipeline,
// and returns the session with its signed token.
func (m *Manager) StartSession(ctx context.Context, examID, candidateID, accessCode string) (*Session, string, error) {
	m.mu.RLock()
	exam, ok := m.exams[examID]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrExamNotFound
	}

	if exam.AccessCodeHash == "" {
		return nil, "", ErrInvalidAccessCode
	}
	if err := bcrypt.CompareHashAndPassword([]byte(exam.AccessCodeHash), []byte(accessCode)); err != nil {
		return nil, "", ErrInvalidAccessCode
	}

	now := m.now()
	s := &Session{
		ID:            uuid.New(),
		ExamID:        examID,
		CandidateID:   candidateID,
		StartedAt:     now.UTC(),
		monitor:       New(exam.Settings, exam.Thresholds, exam.Weights, m.now),
		lastHeartbeat: now,
	}

	signed, err := m.issuer.Issue(s.ID, examID)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	active := len(m.sessions)
	m.mu.Unlock()
	m.recordActive(active)

	if _, err := m.evidence.Append(ctx, s.ID, "session_start", candidateID, map[string]string{
		"exam_id":      examID,
		"candidate_id": candidateID,
	}); err != nil {
		m.logger.Warn("evidence: session start", zap.Error(err))
	}

	m.logger.Info("session started",
		zap.String("session_id", s.ID.String()),
		zap.String("exam_id", examID),
		zap.String("candidate_id", candidateID),
	)
	return s, signed, nil
}

// Get returns a live session.
func (m *Manager) Get(sessionID uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ProcessEvent runs one detection event through the session's pipeline,
// appends it to the evidence log, and emits notifications for whatever the
// pass raised.
func (m *Manager) ProcessEvent(ctx context.Context, sessionID uuid.UUID, ev session.Event) (Outcome, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return Outcome{}, err
	}

	out := s.monitor.Process(ev)

	if _, err := m.evidence.Append(ctx, s.ID, string(ev.Type), ev.Detail, out.State); err != nil {
		m.logger.Warn("evidence: event", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
	m.emit(s, out)
	return out, nil
}

// Heartbeat records liveness and runs a pipeline pass, since open duration
// intervals may have crossed a threshold since the last event.
func (m *Manager) Heartbeat(ctx context.Context, sessionID uuid.UUID) (Outcome, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.lastHeartbeat = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return Outcome{}, ErrSessionNotFound
	}

	out := s.monitor.Reevaluate()
	m.emit(s, out)
	return out, nil
}

// EndSession retires the session: a final pipeline pass, the persisted
// record, and the closing evidence entry.
func (m *Manager) EndSession(ctx context.Context, sessionID uuid.UUID) (*record.SessionRecord, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.recordActive(active)

	out := s.monitor.Reevaluate()
	m.emit(s, out)

	rec := record.FromState(s.ID, s.ExamID, s.CandidateID, s.StartedAt, m.now().UTC(), out.State, s.monitor.Terminated())
	if err := m.records.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save session record: %w", err)
	}

	if _, err := m.evidence.Append(ctx, s.ID, "session_end", "", rec); err != nil {
		m.logger.Warn("evidence: session end", zap.Error(err))
	}
	m.notify(s, notify.EventSessionEnd, map[string]string{
		"risk_score": strconv.Itoa(rec.RiskScore),
		"flagged":    strconv.FormatBool(rec.Flagged),
		"terminated": strconv.FormatBool(rec.Terminated),
	})

	m.logger.Info("session ended",
		zap.String("session_id", s.ID.String()),
		zap.Int("risk_score", rec.RiskScore),
		zap.Bool("flagged", rec.Flagged),
		zap.Bool("terminated", rec.Terminated),
	)
	return rec, nil
}

// Start runs the heartbeat watchdog loop until quit is signalled. Sessions
// silent past the timeout get a synthetic suspicious event; their heartbeat
// mark is reset so a dead client costs one event per timeout window, not one
// per tick.
func (m *Manager) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepSilent(context.Background())
		case <-quit:
			return
		}
	}
}

// sweepSilent injects a suspicious event into every session whose heartbeat
// is overdue.
func (m *Manager) sweepSilent(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var silent []uuid.UUID
	for id, s := range m.sessions {
		if now.Sub(s.lastHeartbeat) > m.cfg.HeartbeatTimeout {
			s.lastHeartbeat = now
			silent = append(silent, id)
		}
	}
	m.mu.Unlock()

	for _, id := range silent {
		m.logger.Warn("heartbeat missed", zap.String("session_id", id.String()))
		if _, err := m.ProcessEvent(ctx, id, session.Event{
			Type:   session.EventSuspicious,
			Detail: "heartbeat missed",
		}); err != nil {
			m.logger.Warn("watchdog: inject event", zap.Error(err))
		}
	}
}

// emit turns a pipeline outcome into evidence entries and notifications.
func (m *Manager) emit(s *Session, out Outcome) {
	for _, w := range out.Warnings {
		if _, err := m.evidence.Append(context.Background(), s.ID, "warning", w.Message, w); err != nil {
			m.logger.Warn("evidence: warning", zap.Error(err))
		}
		m.notify(s, notify.EventWarning, map[string]string{
			"breach":   string(w.Breach),
			"message":  w.Message,
			"warnings": strconv.Itoa(w.Number),
		})
	}
	if out.NewlyFlagged {
		m.notify(s, notify.EventFlagged, map[string]string{
			"risk_score": strconv.Itoa(out.State.RiskScore),
			"reasons":    strings.Join(out.State.FlagReasons, "; "),
		})
	}
	if out.Termination != nil {
		if _, err := m.evidence.Append(context.Background(), s.ID, "terminate", "", out.Termination); err != nil {
			m.logger.Warn("evidence: terminate", zap.Error(err))
		}
		m.notify(s, notify.EventTerminate, map[string]string{
			"reasons":     strings.Join(out.Termination.Reasons, "; "),
			"auto_submit": strconv.FormatBool(out.Termination.AutoSubmit),
		})
	}
}

// notify delivers off the event path; the pipeline never waits on a webhook.
func (m *Manager) notify(s *Session, eventType string, payload map[string]string) {
	ev := notify.Event{
		Type:      eventType,
		Timestamp: m.now().UTC(),
		SessionID: s.ID,
		ExamID:    s.ExamID,
		Payload:   payload,
	}
	go m.notifier.Notify(context.Background(), ev)
}

func (m *Manager) recordActive(n int) {
	if m.onMetrics != nil {
		m.onMetrics(n)
	}
}
