package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// nullable maps an optional value onto a nullable column.
func nullable(v optional.Value[float64]) sql.NullFloat64 {
	x, ok := v.Get()
	return sql.NullFloat64{Float64: x, Valid: ok}
}

func fromNull(n sql.NullFloat64) optional.Value[float64] {
	if !n.Valid {
		return optional.None[float64]()
	}
	return optional.Some(n.Float64)
}

// RecordSnapshot stores a's metrics under a.SessionID. When a carries a
// rhythm that differs from the session's last recorded rhythm, a rhythm
// event is stored as well.
func (db *DB) RecordSnapshot(ctx context.Context, a report.Artifact) error {
	if a.SessionID == "" {
		return errors.New("record snapshot: missing session id")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO snapshots (
			session_id, taken_unix_ms, hr_bpm, pr_ms, qrs_ms, qt_ms, qtc_ms, qtcf_ms,
			st_mv, p_axis_deg, qrs_axis_deg, t_axis_deg, qrs_t_angle_deg,
			rv5_mv, sv1_mv, median_beats, rhythm, severity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.GeneratedAt.UnixMilli(),
		nullable(a.HR), nullable(a.PR), nullable(a.QRS), nullable(a.QT), nullable(a.QTc), nullable(a.QTcF),
		nullable(a.ST), nullable(a.Axes[0]), nullable(a.Axes[1]), nullable(a.Axes[2]), nullable(a.QRSTAngle),
		nullable(a.RV5SV1[0]), nullable(a.RV5SV1[1]), a.MedianBeats,
		sql.NullString{String: a.Rhythm, Valid: a.Rhythm != ""},
		sql.NullString{String: a.Severity, Valid: a.Severity != ""},
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	if a.Rhythm != "" {
		var last string
		err := tx.QueryRowContext(ctx,
			`SELECT rhythm FROM rhythm_events WHERE session_id = ? ORDER BY occurred_unix_ms DESC, event_id DESC LIMIT 1`,
			a.SessionID).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("last rhythm: %w", err)
		}
		if last != a.Rhythm {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rhythm_events (session_id, occurred_unix_ms, rhythm, severity, findings, hr_bpm) VALUES (?, ?, ?, ?, ?, ?)`,
				a.SessionID, a.GeneratedAt.UnixMilli(), a.Rhythm, a.Severity, strings.Join(a.Findings, ";"), nullable(a.HR))
			if err != nil {
				return fmt.Errorf("record rhythm event: %w", err)
			}
		}
	}
	return tx.Commit()
}

// RecentSnapshots returns the newest limit snapshots of a session in
// chronological order.
func (db *DB) RecentSnapshots(ctx context.Context, sessionID string, limit int) ([]report.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT * FROM (
			SELECT snapshot_id, taken_unix_ms, hr_bpm, pr_ms, qrs_ms, qt_ms, qtc_ms, qtcf_ms,
				st_mv, p_axis_deg, qrs_axis_deg, t_axis_deg, qrs_t_angle_deg,
				rv5_mv, sv1_mv, median_beats, rhythm, severity
			FROM snapshots WHERE session_id = ?
			ORDER BY taken_unix_ms DESC, snapshot_id DESC LIMIT ?
		) ORDER BY taken_unix_ms, snapshot_id`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", err)
	}
	defer rows.Close()

	var out []report.Artifact
	for rows.Next() {
		var (
			id                                     int64
			taken                                  int64
			hr, pr, qrs, qt, qtc, qtcf, st         sql.NullFloat64
			pAxis, qrsAxis, tAxis, angle, rv5, sv1 sql.NullFloat64
			beats                                  int
			rhythm, severity                       sql.NullString
		)
		if err := rows.Scan(&id, &taken, &hr, &pr, &qrs, &qt, &qtc, &qtcf, &st,
			&pAxis, &qrsAxis, &tAxis, &angle, &rv5, &sv1, &beats, &rhythm, &severity); err != nil {
			return nil, err
		}
		a := report.Artifact{
			SessionID:   sessionID,
			GeneratedAt: fromUnixMs(taken),
			HR:          fromNull(hr),
			PR:          fromNull(pr),
			QRS:         fromNull(qrs),
			QT:          fromNull(qt),
			QTc:         fromNull(qtc),
			QTcF:        fromNull(qtcf),
			ST:          fromNull(st),
			Axes:        [3]optional.Value[float64]{fromNull(pAxis), fromNull(qrsAxis), fromNull(tAxis)},
			QRSTAngle:   fromNull(angle),
			RV5SV1:      [2]optional.Value[float64]{fromNull(rv5), fromNull(sv1)},
			MedianBeats: beats,
			Rhythm:      rhythm.String,
			Severity:    severity.String,
		}
		a.SokolowLyon = report.SokolowLyon(a.RV5SV1[0], a.RV5SV1[1])
		out = append(out, a)
	}
	return out, rows.Err()
}

// RhythmEvent is a change of classified rhythm within a session.
type RhythmEvent struct {
	ID         int64                   `json:"id"`
	SessionID  string                  `json:"session_id"`
	OccurredAt time.Time               `json:"occurred_at"`
	Rhythm     string                  `json:"rhythm"`
	Severity   string                  `json:"severity"`
	Findings   []string                `json:"findings,omitempty"`
	HR         optional.Value[float64] `json:"hr_bpm"`
}

// RhythmEvents returns a session's rhythm changes in chronological order.
func (db *DB) RhythmEvents(ctx context.Context, sessionID string) ([]RhythmEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT event_id, occurred_unix_ms, rhythm, severity, findings, hr_bpm
		FROM rhythm_events WHERE session_id = ? ORDER BY occurred_unix_ms, event_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rhythm events: %w", err)
	}
	defer rows.Close()

	var out []RhythmEvent
	for rows.Next() {
		var (
			e        RhythmEvent
			at       int64
			findings string
			hr       sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &at, &e.Rhythm, &e.Severity, &findings, &hr); err != nil {
			return nil, err
		}
		e.SessionID = sessionID
		e.OccurredAt = fromUnixMs(at)
		if findings != "" {
			e.Findings = strings.Split(findings, ";")
		}
		e.HR = fromNull(hr)
		out = append(out, e)
	}
	return out, rows.Err()
}
