package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// EmailNotifier escalates flag and termination events to the exam owner by
// plain-text mail. Warnings are candidate-facing and are not mailed.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	logger   *zap.Logger

	// send is swapped in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an EmailNotifier delivering to the exam owner's
// address.
func NewEmailNotifier(host string, port int, username, password, from, to string, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

// Notify implements Notifier.
func (e *EmailNotifier) Notify(_ context.Context, ev Event) {
	if ev.Type != EventFlagged && ev.Type != EventTerminate {
		return
	}

	subject := fmt.Sprintf("[proctor] session %s: %s", shortID(ev.SessionID.String()), ev.Type)
	msg := strings.Join([]string{
		"From: " + e.from,
		"To: " + e.to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		e.body(ev),
	}, "\r\n")

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	if err := e.send(addr, auth, e.from, []string{e.to}, []byte(msg)); err != nil {
		e.logger.Warn("email: escalation delivery failed",
			zap.String("to", e.to),
			zap.String("event", ev.Type),
			zap.Error(err),
		)
	}
}

func (e *EmailNotifier) body(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exam %s, session %s raised %s at %s.\n\n",
		ev.ExamID, ev.SessionID, ev.Type, ev.Timestamp.Format("2006-01-02 15:04:05 UTC"))

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, ev.Payload[k])
	}
	b.WriteString("\nReview the session record and evidence log in the proctor dashboard.\n")
	return b.String()
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// NoopNotifier logs events instead of delivering them. Used when no
// destination is configured.
type NoopNotifier struct {
	logger *zap.Logger
}

// NewNoopNotifier creates a NoopNotifier.
func NewNoopNotifier(logger *zap.Logger) *NoopNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, ev Event) {
	n.logger.Info("notification (noop — not delivered)",
		zap.String("type", ev.Type),
		zap.String("session_id", ev.SessionID.String()),
		zap.Any("payload", ev.Payload),
	)
}
