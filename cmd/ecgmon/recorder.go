package main

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/ecg.report/internal/db"
	"github.com/banshee-data/ecg.report/internal/ecg/pipeline"
	"github.com/banshee-data/ecg.report/internal/ecg/report"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/timeutil"
)

// recordTimeout bounds one snapshot insert so a locked database cannot
// stall the analysis loop.
const recordTimeout = 2 * time.Second

// snapshotRecorder persists at most one result per interval.
type snapshotRecorder struct {
	db        *db.DB
	sessionID string
	interval  time.Duration
	clock     timeutil.Clock

	mu    sync.Mutex
	last  time.Time
	saved int
}

func newSnapshotRecorder(database *db.DB, sessionID string, interval time.Duration, clock timeutil.Clock) *snapshotRecorder {
	return &snapshotRecorder{db: database, sessionID: sessionID, interval: interval, clock: clock}
}

// Record is registered with pipeline.Session.OnResult.
func (r *snapshotRecorder) Record(res *pipeline.Result) {
	now := r.clock.Now()
	r.mu.Lock()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = now
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.db.RecordSnapshot(ctx, report.FromResult(res, r.sessionID, now)); err != nil {
		monitoring.Logf("[ecgmon] failed to record snapshot: %v", err)
		return
	}
	r.mu.Lock()
	r.saved++
	r.mu.Unlock()
}

// Saved returns the number of snapshots written.
func (r *snapshotRecorder) Saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}
