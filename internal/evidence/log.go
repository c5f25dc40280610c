package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only evidence store. MemoryLog and PostgresLog both
// implement it.
type Log interface {
	// Append chains a new entry onto the session's log. payload is
	// JSON-marshalled and its SHA-256 stored as DataHash.
	Append(ctx context.Context, sessionID uuid.UUID, kind, detail string, payload any) (*Entry, error)

	// Entries returns a session's chain in order.
	Entries(ctx context.Context, sessionID uuid.UUID) ([]*Entry, error)

	// Verify walks a session's chain and checks hash consistency.
	Verify(ctx context.Context, sessionID uuid.UUID) error

	// Tip returns the hash of the session's most recent entry, or Anchor
	// for an empty chain.
	Tip(ctx context.Context, sessionID uuid.UUID) (string, error)
}

// MemoryLog is an in-process, thread-safe Log.
type MemoryLog struct {
	mu     sync.RWMutex
	chains map[uuid.UUID][]*Entry
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{chains: make(map[uuid.UUID][]*Entry)}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, sessionID uuid.UUID, kind, detail string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.chains[sessionID]
	prev := Anchor
	if n := len(chain); n > 0 {
		prev = chain[n-1].Hash
	}

	entry := &Entry{
		Index:     len(chain),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prev,
	}
	entry.Hash = hashEntry(entry)
	l.chains[sessionID] = append(chain, entry)
	return entry, nil
}

// Entries implements Log.
func (l *MemoryLog) Entries(_ context.Context, sessionID uuid.UUID) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[sessionID]
	out := make([]*Entry, len(chain))
	for i, e := range chain {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(ctx context.Context, sessionID uuid.UUID) error {
	entries, err := l.Entries(ctx, sessionID)
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

// Tip implements Log.
func (l *MemoryLog) Tip(_ context.Context, sessionID uuid.UUID) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[sessionID]
	if len(chain) == 0 {
		return Anchor, nil
	}
	return chain[len(chain)-1].Hash, nil
}
