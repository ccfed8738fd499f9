package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("not found")

// Session is one continuous recording from one source.
type Session struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	SampleRateHz float64    `json:"sample_rate_hz"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func fromUnixMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// CreateSession starts a session for source at startedAt.
func (db *DB) CreateSession(ctx context.Context, source string, sampleRateHz float64, startedAt time.Time) (Session, error) {
	s := Session{
		ID:           uuid.NewString(),
		Source:       source,
		SampleRateHz: sampleRateHz,
		StartedAt:    fromUnixMs(startedAt.UnixMilli()),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, source, sample_rate_hz, started_unix_ms) VALUES (?, ?, ?, ?)`,
		s.ID, s.Source, s.SampleRateHz, startedAt.UnixMilli())
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// EndSession marks a session finished at endedAt.
func (db *DB) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_unix_ms = ? WHERE session_id = ?`, endedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const sessionColumns = `session_id, source, sample_rate_hz, started_unix_ms, ended_unix_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	if err := r.Scan(&s.ID, &s.Source, &s.SampleRateHz, &started, &ended); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromUnixMs(started)
	if ended.Valid {
		t := fromUnixMs(ended.Int64)
		s.EndedAt = &t
	}
	return s, nil
}

// GetSession returns one session.
func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, err
}

// ListSessions returns up to limit sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix_ms DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
