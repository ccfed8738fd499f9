package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/optional"
)

func TestNewDB_AppliesPragmasAndMigrations(t *testing.T) {
	db := newTestDB(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d dirty=%v, want %d clean", version, dirty, latest)
	}

	// Migrating an up-to-date database is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp: %v", err)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, _ := db.MigrateVersion()
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if _, err := db.Exec("SELECT 1 FROM rhythm_events"); err == nil {
		t.Error("rhythm_events still exists after rolling back")
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if _, err := db.Exec("SELECT 1 FROM rhythm_events"); err != nil {
		t.Errorf("rhythm_events missing after up: %v", err)
	}
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := db.CreateSession(ctx, "simulator", 500, t0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := db.CreateSession(ctx, "/dev/ttyUSB0", 250, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("session ids not unique: %q %q", first.ID, second.ID)
	}

	if err := db.EndSession(ctx, first.ID, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, err := db.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(t0.Add(30*time.Minute)) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, t0.Add(30*time.Minute))
	}
	if !got.StartedAt.Equal(t0) || got.Source != "simulator" || got.SampleRateHz != 500 {
		t.Errorf("GetSession = %+v", got)
	}

	list, err := db.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("ListSessions order wrong: %+v", list)
	}

	if _, err := db.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) err = %v, want ErrNotFound", err)
	}
	if err := db.EndSession(ctx, "missing", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndSession(missing) err = %v, want ErrNotFound", err)
	}
}

func artifactAt(id string, at time.Time, hr float64, rhythm, severity string) report.Artifact {
	some := optional.Some[float64]
	return report.Artifact{
		SessionID:   id,
		GeneratedAt: at,
		HR:          some(hr),
		PR:          some(160),
		QRS:         some(92),
		QT:          some(380),
		QTc:         some(410),
		QTcF:        some(400),
		Axes:        [3]optional.Value[float64]{some(50), some(60), optional.None[float64]()},
		RV5SV1:      [2]optional.Value[float64]{some(1.8), some(-0.9)},
		MedianBeats: 10,
		Rhythm:      rhythm,
		Severity:    severity,
	}
}

func TestRecordSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := db.CreateSession(ctx, "simulator", 500, t0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	steps := []report.Artifact{
		artifactAt(s.ID, t0.Add(1*time.Second), 72, "Normal Sinus Rhythm", "normal"),
		artifactAt(s.ID, t0.Add(2*time.Second), 74, "Normal Sinus Rhythm", "normal"),
		artifactAt(s.ID, t0.Add(3*time.Second), 110, "Sinus Tachycardia", "caution"),
		artifactAt(s.ID, t0.Add(4*time.Second), 0, "", ""),
		artifactAt(s.ID, t0.Add(5*time.Second), 111, "Sinus Tachycardia", "caution"),
	}
	steps[3].HR = optional.None[float64]()
	steps[2].Findings = []string{"Sinus Tachycardia", "PVC Detected"}
	for _, a := range steps {
		if err := db.RecordSnapshot(ctx, a); err != nil {
			t.Fatalf("RecordSnapshot: %v", err)
		}
	}

	got, err := db.RecentSnapshots(ctx, s.ID, 3)
	if err != nil {
		t.Fatalf("RecentSnapshots: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].GeneratedAt.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("first snapshot at %v, want chronological tail", got[0].GeneratedAt)
	}
	if got[1].HR.OK() || got[1].Rhythm != "" {
		t.Errorf("snapshot without values = %+v", got[1])
	}
	if hr, _ := got[2].HR.Get(); hr != 111 {
		t.Errorf("last HR = %v, want 111", got[2].HR)
	}
	if got[0].Axes[2].OK() {
		t.Error("NULL T axis read back as a value")
	}
	if sl, ok := got[0].SokolowLyon.Get(); !ok || sl < 2.699 || sl > 2.701 {
		t.Errorf("SokolowLyon = %v, want 2.7", got[0].SokolowLyon)
	}

	events, err := db.RhythmEvents(ctx, s.ID)
	if err != nil {
		t.Fatalf("RhythmEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2 rhythm changes", events)
	}
	if events[0].Rhythm != "Normal Sinus Rhythm" || events[1].Rhythm != "Sinus Tachycardia" {
		t.Errorf("event rhythms = %q, %q", events[0].Rhythm, events[1].Rhythm)
	}
	if len(events[1].Findings) != 2 || events[1].Findings[1] != "PVC Detected" {
		t.Errorf("findings = %v", events[1].Findings)
	}
}

func TestRecordSnapshot_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordSnapshot(ctx, report.Artifact{}); err == nil {
		t.Error("expected error for missing session id")
	}
	// Foreign keys are enforced.
	if err := db.RecordSnapshot(ctx, artifactAt("nope", time.Now(), 60, "", "")); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateSession(context.Background(), "simulator", 500, time.Now()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest("GET", "/debug/backup", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Errorf("backup does not look like a SQLite file")
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"up"}, path, &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 2") {
		t.Errorf("up output = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"down"}, path, &out); err != nil {
		t.Fatalf("down: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 1") {
		t.Errorf("down output = %q", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"force", "2"}, path, &out); err != nil {
		t.Fatalf("force: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 2") {
		t.Errorf("force output = %q", out.String())
	}

	tests := [][]string{nil, {"force"}, {"force", "x"}, {"sideways"}}
	for _, args := range tests {
		if err := RunMigrateCommand(args, path, io.Discard); !errors.Is(err, ErrUsage) {
			t.Errorf("RunMigrateCommand(%q) err = %v, want ErrUsage", args, err)
		}
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"help"}, path, &out); err != nil || !strings.Contains(out.String(), "Usage: ecgmon migrate") {
		t.Errorf("help: err=%v out=%q", err, out.String())
	}
}
