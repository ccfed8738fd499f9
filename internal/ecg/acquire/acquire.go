// Package acquire feeds device lines into a lead buffer: parse the eight
// channel frame, convert counts to millivolts, derive the twelve leads.
package acquire

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/serialmux"
)

// DefaultCountsPerMV is the acquisition board's ADC gain.
const DefaultCountsPerMV = 1000

// rejectLogEvery throttles the log line for malformed frames.
const rejectLogEvery = 1000

// Acquirer moves frames from a serial mux into a buffer.
type Acquirer struct {
	mux         serialmux.Mux
	buf         *leads.Buffer
	countsPerMV float64

	frames   atomic.Uint64
	rejected monitoring.Sampler
}

// New returns an acquirer. A non-positive countsPerMV uses
// DefaultCountsPerMV.
func New(mux serialmux.Mux, buf *leads.Buffer, countsPerMV float64) *Acquirer {
	if countsPerMV <= 0 {
		countsPerMV = DefaultCountsPerMV
	}
	a := &Acquirer{mux: mux, buf: buf, countsPerMV: countsPerMV}
	a.rejected.Every = rejectLogEvery
	return a
}

// Stats counts frames accepted and lines rejected.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Rejected uint64 `json:"rejected"`
}

func (a *Acquirer) Stats() Stats {
	return Stats{Frames: a.frames.Load(), Rejected: a.rejected.Count()}
}

// Ingest parses one device line and pushes the derived sample.
func (a *Acquirer) Ingest(line string) error {
	f, err := leads.ParseFrame(line)
	if err != nil {
		a.rejected.Logf("[acquire] rejected line %q: %v", line, err)
		return fmt.Errorf("parse frame: %w", err)
	}
	a.buf.Push(leads.Derive(f.Scale(a.countsPerMV)))
	a.frames.Add(1)
	return nil
}

// Run subscribes to the mux, starts streaming and ingests lines until ctx
// is done or the mux closes. Streaming is stopped on the way out.
func (a *Acquirer) Run(ctx context.Context) error {
	id, lines := a.mux.Subscribe()
	defer a.mux.Unsubscribe(id)

	if err := a.mux.StartStreaming(); err != nil {
		return err
	}
	defer func() {
		if err := a.mux.StopStreaming(); err != nil {
			monitoring.Logf("[acquire] %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			_ = a.Ingest(line)
		}
	}
}
