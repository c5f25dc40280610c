package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/examtrust/proctor/internal/evidence"
	"github.com/examtrust/proctor/internal/notify"
	"github.com/examtrust/proctor/internal/record"
	"github.com/examtrust/proctor/internal/session"
	"github.com/examtrust/proctor/internal/settings"
	"github.com/examtrust/proctor/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *captureNotifier) ofType(typ string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes. Notifications are
// delivered off the event path, so tests cannot assert them synchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMonitor_tabSwitchScenario(t *testing.T) {
	// Allowed 2 switches, warning cap well above: the third switch raises
	// exactly one warning and later switches raise none.
	cfg := settings.DefaultProctoring()
	cfg.AllowedTabSwitches = 2
	cfg.MaxWarnings = 5
	m := New(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights(), nil)

	var warned int
	for i := 0; i < 5; i++ {
		out := m.Process(session.Event{Type: session.EventTabSwitch})
		warned += len(out.Warnings)
	}

	if warned != 1 {
		t.Errorf("warnings raised = %d, want 1", warned)
	}
	st := m.Snapshot()
	if st.TabSwitches != 5 {
		t.Errorf("TabSwitches = %d, want 5", st.TabSwitches)
	}
	if st.Warnings != 1 {
		t.Errorf("Warnings = %d, want 1", st.Warnings)
	}
}

func TestMonitor_terminatesExactlyOnce(t *testing.T) {
	cfg := settings.DefaultProctoring()
	cfg.MaxWarnings = 2
	cfg.AllowedTabSwitches = 0
	cfg.AllowedSuspiciousEvents = 0
	m := New(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights(), nil)

	var terms []*Outcome
	events := []session.Event{
		{Type: session.EventTabSwitch},  // breach 1
		{Type: session.EventSuspicious}, // breach 2 → cap reached
		{Type: session.EventTabSwitch},
		{Type: session.EventSuspicious},
	}
	for _, ev := range events {
		out := m.Process(ev)
		if out.Termination != nil {
			o := out
			terms = append(terms, &o)
		}
	}

	if len(terms) != 1 {
		t.Fatalf("termination issued %d times, want 1", len(terms))
	}
	term := terms[0].Termination
	if len(term.Reasons) != 2 {
		t.Errorf("Reasons = %v, want 2 entries", term.Reasons)
	}
	if !term.AutoSubmit {
		t.Error("AutoSubmit = false with AutoSubmitOnTimeout set")
	}
	if !m.Terminated() {
		t.Error("Terminated() = false after decision")
	}
}

func TestMonitor_reevaluateCrossesDurationThreshold(t *testing.T) {
	// No events after face_lost, yet accrual alone breaches the tolerance.
	clock := newFakeClock()
	cfg := settings.DefaultProctoring()
	cfg.FaceMissingTolerance = 10 * time.Second
	m := New(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights(), clock.now)

	out := m.Process(session.Event{Type: session.EventFaceLost})
	if len(out.Warnings) != 0 {
		t.Fatalf("warned at interval open: %v", out.Warnings)
	}

	clock.advance(11 * time.Second)
	out = m.Reevaluate()
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings after accrual = %v, want 1", out.Warnings)
	}
	if out.State.NoFaceDuration < 11*time.Second {
		t.Errorf("NoFaceDuration = %s, want >= 11s", out.State.NoFaceDuration)
	}
}

func TestMonitor_newlyFlaggedReportedOnce(t *testing.T) {
	cfg := settings.DefaultProctoring()
	m := New(cfg, settings.DefaultRiskThresholds(), settings.DefaultWeights(), nil)

	var newly int
	for i := 0; i < 3; i++ {
		out := m.Process(session.Event{Type: session.EventMultipleFaces})
		if out.NewlyFlagged {
			newly++
		}
		if !out.State.Flagged {
			t.Fatalf("not flagged after multiple_faces event %d", i+1)
		}
	}
	if newly != 1 {
		t.Errorf("NewlyFlagged reported %d times, want 1", newly)
	}
}

func TestMonitor_subscribeSeesEveryPass(t *testing.T) {
	m := New(settings.DefaultProctoring(), settings.DefaultRiskThresholds(), settings.DefaultWeights(), nil)

	var passes int
	cancel := m.Subscribe(func(Outcome) { passes++ })

	m.Process(session.Event{Type: session.EventTabSwitch})
	m.Reevaluate()
	if passes != 2 {
		t.Fatalf("subscriber saw %d passes, want 2", passes)
	}

	cancel()
	m.Process(session.Event{Type: session.EventTabSwitch})
	if passes != 2 {
		t.Errorf("subscriber called after cancel: %d passes", passes)
	}
}

func testManager(t *testing.T, clock *fakeClock, cfg Config) (*Manager, *captureNotifier, *evidence.MemoryLog, *record.MemoryStore) {
	t.Helper()
	log := evidence.NewMemoryLog()
	store := record.NewMemoryStore()
	notifier := &captureNotifier{}
	issuer := token.NewIssuer([]byte("test-secret"), "http://localhost:8085", time.Hour)

	mgr := NewManager(issuer, log, store, notifier, cfg, nil)
	if clock != nil {
		mgr.SetClock(clock.now)
	}

	hash, err := HashAccessCode("let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	err = mgr.RegisterExam(Exam{
		ID:             "exam-1",
		AccessCodeHash: hash,
		Settings:       settings.DefaultProctoring(),
		Thresholds:     settings.DefaultRiskThresholds(),
		Weights:        settings.DefaultWeights(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return mgr, notifier, log, store
}

func TestManager_startSessionVerifiesAccessCode(t *testing.T) {
	mgr, _, _, _ := testManager(t, nil, Config{})
	ctx := context.Background()

	if _, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "wrong"); err != ErrInvalidAccessCode {
		t.Errorf("wrong code: err = %v, want ErrInvalidAccessCode", err)
	}
	if _, _, err := mgr.StartSession(ctx, "nope", "cand-1", "let-me-in"); err != ErrExamNotFound {
		t.Errorf("unknown exam: err = %v, want ErrExamNotFound", err)
	}

	s, signed, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	if s.ExamID != "exam-1" || s.CandidateID != "cand-1" {
		t.Errorf("session = %+v", s)
	}

	issuer := token.NewIssuer([]byte("test-secret"), "http://localhost:8085", time.Hour)
	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != s.ID {
		t.Errorf("token session = %s, want %s", claims.SessionID, s.ID)
	}
}

func TestManager_registerExamValidatesSettings(t *testing.T) {
	mgr, _, _, _ := testManager(t, nil, Config{})

	bad := settings.DefaultProctoring()
	bad.MaxWarnings = 0
	err := mgr.RegisterExam(Exam{ID: "exam-bad", Settings: bad,
		Thresholds: settings.DefaultRiskThresholds(), Weights: settings.DefaultWeights()})
	if err == nil {
		t.Error("invalid settings accepted")
	}
}

func TestManager_processEventAppendsEvidence(t *testing.T) {
	mgr, _, log, _ := testManager(t, nil, Config{})
	ctx := context.Background()

	s, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.ProcessEvent(ctx, s.ID, session.Event{Type: session.EventTabSwitch, Detail: "blur"}); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	// session_start plus the event.
	if len(entries) < 2 {
		t.Fatalf("evidence entries = %d, want >= 2", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Kind != string(session.EventTabSwitch) || last.Detail != "blur" {
		t.Errorf("last entry = %s/%q", last.Kind, last.Detail)
	}
	if err := log.Verify(ctx, s.ID); err != nil {
		t.Errorf("chain verify: %v", err)
	}
}

func TestManager_processEventUnknownSession(t *testing.T) {
	mgr, _, _, _ := testManager(t, nil, Config{})
	if _, err := mgr.ProcessEvent(context.Background(), uuid.New(), session.Event{Type: session.EventTabSwitch}); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_endSessionPersistsRecord(t *testing.T) {
	mgr, notifier, _, store := testManager(t, nil, Config{})
	ctx := context.Background()

	s, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := mgr.ProcessEvent(ctx, s.ID, session.Event{Type: session.EventTabSwitch}); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := mgr.EndSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.TabSwitches != 3 {
		t.Errorf("record TabSwitches = %d, want 3", rec.TabSwitches)
	}
	if rec.Warnings != 1 {
		t.Errorf("record Warnings = %d, want 1", rec.Warnings)
	}

	stored, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CandidateID != "cand-1" {
		t.Errorf("stored CandidateID = %q", stored.CandidateID)
	}

	if _, err := mgr.Get(s.ID); err != ErrSessionNotFound {
		t.Errorf("session still live after end: err = %v", err)
	}
	if _, err := mgr.EndSession(ctx, s.ID); err != ErrSessionNotFound {
		t.Errorf("second end: err = %v, want ErrSessionNotFound", err)
	}

	waitFor(t, func() bool { return len(notifier.ofType(notify.EventSessionEnd)) == 1 })
}

func TestManager_warningNotificationsDelivered(t *testing.T) {
	mgr, notifier, _, _ := testManager(t, nil, Config{})
	ctx := context.Background()

	s, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := mgr.ProcessEvent(ctx, s.ID, session.Event{Type: session.EventTabSwitch}); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return len(notifier.ofType(notify.EventWarning)) == 1 })
	ev := notifier.ofType(notify.EventWarning)[0]
	if ev.SessionID != s.ID || ev.ExamID != "exam-1" {
		t.Errorf("warning event = %+v", ev)
	}
	if ev.Payload["breach"] != "tab_switches" {
		t.Errorf("breach = %q, want tab_switches", ev.Payload["breach"])
	}
}

func TestManager_watchdogInjectsSuspiciousEvent(t *testing.T) {
	clock := newFakeClock()
	mgr, _, _, _ := testManager(t, clock, Config{HeartbeatTimeout: 30 * time.Second})
	ctx := context.Background()

	s, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}

	// Within the timeout nothing happens.
	clock.advance(20 * time.Second)
	mgr.sweepSilent(ctx)
	if st := s.Monitor().Snapshot(); st.SuspiciousEvents != 0 {
		t.Fatalf("SuspiciousEvents = %d before timeout", st.SuspiciousEvents)
	}

	// Past the timeout one synthetic event lands, and the mark resets so an
	// immediate second sweep injects nothing.
	clock.advance(20 * time.Second)
	mgr.sweepSilent(ctx)
	mgr.sweepSilent(ctx)
	if st := s.Monitor().Snapshot(); st.SuspiciousEvents != 1 {
		t.Errorf("SuspiciousEvents = %d, want 1", st.SuspiciousEvents)
	}

	// A heartbeat pushes the next injection out again.
	if _, err := mgr.Heartbeat(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	clock.advance(20 * time.Second)
	mgr.sweepSilent(ctx)
	if st := s.Monitor().Snapshot(); st.SuspiciousEvents != 1 {
		t.Errorf("SuspiciousEvents = %d after heartbeat, want 1", st.SuspiciousEvents)
	}
}

func TestManager_metricsTracksActiveSessions(t *testing.T) {
	mgr, _, _, _ := testManager(t, nil, Config{})
	ctx := context.Background()

	var mu sync.Mutex
	var last int
	mgr.SetMetricsRecord(func(active int) {
		mu.Lock()
		last = active
		mu.Unlock()
	})

	s, _, err := mgr.StartSession(ctx, "exam-1", "cand-1", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := last
	mu.Unlock()
	if got != 1 {
		t.Errorf("active after start = %d, want 1", got)
	}

	if _, err := mgr.EndSession(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got = last
	mu.Unlock()
	if got != 0 {
		t.Errorf("active after end = %d, want 0", got)
	}
}
