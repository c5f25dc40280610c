// Package evidence keeps a tamper-evident, append-only log of every raw
// proctoring event in a session. Each entry records the SHA-256 of its
// predecessor, so a doctored record — an event removed, reordered, or edited
// after the fact — is detectable via Verify. The chain is the audit trail
// backing a flag decision when an academic-integrity case is reviewed.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Anchor is the well-known predecessor hash of the first entry in every
// session's chain (64 hex zeros).
const Anchor = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one record in a session's evidence chain.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	SessionID uuid.UUID `json:"sessionId"`
	// Kind is the event type, or one of the lifecycle markers
	// "session_start", "warning", "terminate", "session_end".
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
	DataHash string `json:"dataHash"` // SHA-256 of the associated payload
	PrevHash string `json:"prevHash"`
	Hash     string `json:"hash"`
}

// hashEntry computes the deterministic SHA-256 over an entry's fields.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.SessionID, e.Kind, e.Detail, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// VerifyEntries checks an in-order slice of one session's entries, as
// exported from a store or submitted by a reviewer.
func VerifyEntries(entries []*Entry) error {
	return verifyChain(entries)
}

// verifyChain checks an in-order slice of one session's entries.
func verifyChain(entries []*Entry) error {
	prev := Anchor
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("entry %d has index %d", i, e.Index)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d prev hash mismatch: got %q, want %q", i, e.PrevHash, prev)
		}
		if got := hashEntry(e); got != e.Hash {
			return fmt.Errorf("entry %d hash mismatch: stored %q, computed %q", i, e.Hash, got)
		}
		prev = e.Hash
	}
	return nil
}
