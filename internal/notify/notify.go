// Package notify carries warning and termination decisions out of the
// monitor to the host application and the exam owner. The monitor never
// blocks on delivery; notifiers run on their own goroutines and absorb
// their own failures.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventWarning and friends are the notification types the monitor emits.
const (
	EventWarning    = "proctor.warning"
	EventTerminate  = "proctor.terminate"
	EventFlagged    = "proctor.flagged"
	EventSessionEnd = "proctor.session_end"
)

// Event is one outbound notification.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID uuid.UUID `json:"sessionId"`
	ExamID    string    `json:"examId"`
	// Payload carries the triggering reason(s) and counters as flat strings
	// so host applications can consume it without this module's types.
	Payload map[string]string `json:"payload"`
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Multi fans out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
