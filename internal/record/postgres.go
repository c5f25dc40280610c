package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store used when the monitor owns persistence.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save implements Store. Upserts on session id so a re-finished session
// keeps its latest outcome.
func (s *PostgresStore) Save(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO session_records (
			session_id, exam_id, candidate_id, started_at, ended_at,
			tab_switches, fullscreen_exits, no_face_seconds,
			multiple_faces_count, attention_away_seconds, suspicious_events,
			risk_score, flagged, flag_reasons, warnings, terminated
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16
		)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			tab_switches = EXCLUDED.tab_switches,
			fullscreen_exits = EXCLUDED.fullscreen_exits,
			no_face_seconds = EXCLUDED.no_face_seconds,
			multiple_faces_count = EXCLUDED.multiple_faces_count,
			attention_away_seconds = EXCLUDED.attention_away_seconds,
			suspicious_events = EXCLUDED.suspicious_events,
			risk_score = EXCLUDED.risk_score,
			flagged = EXCLUDED.flagged,
			flag_reasons = EXCLUDED.flag_reasons,
			warnings = EXCLUDED.warnings,
			terminated = EXCLUDED.terminated`

	_, err := s.db.Exec(ctx, query,
		rec.SessionID, rec.ExamID, rec.CandidateID, rec.StartedAt, rec.EndedAt,
		rec.TabSwitches, rec.FullscreenExits, rec.NoFaceDuration,
		rec.MultipleFacesCount, rec.AttentionAwayDuration, rec.SuspiciousEvents,
		rec.RiskScore, rec.Flagged, rec.FlagReasons, rec.Warnings, rec.Terminated,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, sessionID uuid.UUID) (*SessionRecord, error) {
	query := selectColumns + ` FROM session_records WHERE session_id = $1`
	rec, err := s.scanOne(s.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session record: %w", err)
	}
	return rec, nil
}

// ListByExam implements Store.
func (s *PostgresStore) ListByExam(ctx context.Context, examID string, flaggedOnly bool) ([]*SessionRecord, error) {
	query := selectColumns + `
		FROM session_records
		WHERE exam_id = $1
		  AND ($2 = false OR flagged = true)
		ORDER BY ended_at DESC`

	rows, err := s.db.Query(ctx, query, examID, flaggedOnly)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT session_id, exam_id, candidate_id, started_at, ended_at,
	       tab_switches, fullscreen_exits, no_face_seconds,
	       multiple_faces_count, attention_away_seconds, suspicious_events,
	       risk_score, flagged, flag_reasons, warnings, terminated`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	err := row.Scan(
		&rec.SessionID, &rec.ExamID, &rec.CandidateID, &rec.StartedAt, &rec.EndedAt,
		&rec.TabSwitches, &rec.FullscreenExits, &rec.NoFaceDuration,
		&rec.MultipleFacesCount, &rec.AttentionAwayDuration, &rec.SuspiciousEvents,
		&rec.RiskScore, &rec.Flagged, &rec.FlagReasons, &rec.Warnings, &rec.Terminated,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
