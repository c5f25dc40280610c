package record

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store. Useful for tests and for
// deployments where the host portal persists records itself and the monitor
// only needs them for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[uuid.UUID]*SessionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[uuid.UUID]*SessionRecord)}
}

// Save implements Store. Saving twice overwrites, so a re-finished session
// keeps its latest outcome.
func (s *MemoryStore) Save(_ context.Context, rec *SessionRecord) error {
	cp := *rec
	cp.FlagReasons = append([]string(nil), rec.FlagReasons...)
	s.mu.Lock()
	s.recs[rec.SessionID] = &cp
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID uuid.UUID) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.FlagReasons = append([]string(nil), rec.FlagReasons...)
	return &cp, nil
}

// ListByExam implements Store.
func (s *MemoryStore) ListByExam(_ context.Context, examID string, flaggedOnly bool) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SessionRecord
	for _, rec := range s.recs {
		if rec.ExamID != examID {
			continue
		}
		if flaggedOnly && !rec.Flagged {
			continue
		}
		cp := *rec
		cp.FlagReasons = append([]string(nil), rec.FlagReasons...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	return out, nil
}
