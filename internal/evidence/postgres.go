package evidence

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLog persists evidence chains durably. It implements Log.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLog{pool: pool, logger: logger}
}

// lockKey derives a per-session advisory lock key, so appends to one
// session's chain serialise without blocking other sessions.
func lockKey(sessionID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(sessionID[:8])) //nolint:gosec
}

// Append implements Log. The chain tail is read and the new entry inserted
// inside one transaction holding a session-scoped advisory lock.
func (l *PostgresLog) Append(ctx context.Context, sessionID uuid.UUID, kind, detail string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(sessionID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prevIdx := -1
	prevHash := Anchor
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM evidence_log WHERE session_id = $1 ORDER BY idx DESC LIMIT 1",
		sessionID,
	).Scan(&prevIdx, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO evidence_log (session_id, idx, timestamp, kind, detail, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.SessionID, entry.Index, entry.Timestamp, entry.Kind,
		entry.Detail, entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert evidence entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit evidence tx: %w", err)
	}

	l.logger.Debug("evidence entry appended",
		zap.String("session_id", sessionID.String()),
		zap.Int("idx", entry.Index),
		zap.String("kind", entry.Kind),
	)
	return entry, nil
}

// Entries implements Log.
func (l *PostgresLog) Entries(ctx context.Context, sessionID uuid.UUID) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT session_id, idx, timestamp, kind, detail, data_hash, prev_hash, hash
		 FROM evidence_log WHERE session_id = $1 ORDER BY idx`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query evidence chain: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.SessionID, &e.Index, &e.Timestamp, &e.Kind,
			&e.Detail, &e.DataHash, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan evidence entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify implements Log.
func (l *PostgresLog) Verify(ctx context.Context, sessionID uuid.UUID) error {
	entries, err := l.Entries(ctx, sessionID)
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

// Tip implements Log.
func (l *PostgresLog) Tip(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT hash FROM evidence_log WHERE session_id = $1 ORDER BY idx DESC LIMIT 1",
		sessionID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Anchor, nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain tip: %w", err)
	}
	return hash, nil
}
