package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/rpeak"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/timeutil"
)

// Source supplies analysis windows. *leads.Buffer satisfies it.
type Source interface {
	Window(want ...leads.Lead) leads.Window
}

// RunOptions controls Session.Run.
type RunOptions struct {
	// Tick is the refresh period of the host loop.
	Tick time.Duration
	// Every runs one analysis cycle per this many ticks.
	Every int
	// MinSeconds is the shortest window worth analysing.
	MinSeconds float64
}

// DefaultRunOptions ticks at 50 ms and analyses once a second once four
// seconds of signal are available.
func DefaultRunOptions() RunOptions {
	return RunOptions{Tick: 50 * time.Millisecond, Every: 20, MinSeconds: 4}
}

// Session analyses one patient stream. It owns the R-peak history through
// an rpeak.Tracker and publishes results atomically: readers see either the
// previous Result or the new one, never a mix.
type Session struct {
	analyzer *Analyzer
	source   Source
	tracker  rpeak.Tracker
	latest   atomic.Pointer[Result]
	cycles   atomic.Uint64
	sink     func(*Result)
}

// NewSession returns a session reading windows from src.
func NewSession(a *Analyzer, src Source) *Session {
	return &Session{analyzer: a, source: src}
}

// OnResult registers fn to receive every published result. It must be set
// before Run starts.
func (s *Session) OnResult(fn func(*Result)) { s.sink = fn }

// Latest returns the most recent result, or nil before the first cycle.
func (s *Session) Latest() *Result { return s.latest.Load() }

// Cycles returns the number of completed cycles.
func (s *Session) Cycles() uint64 { return s.cycles.Load() }

// History returns a copy of the R-peak history.
func (s *Session) History() rpeak.History { return s.tracker.History() }

// Reset discards the history and the published result, e.g. after the
// sampling rate changed.
func (s *Session) Reset() {
	s.tracker.Reset()
	s.latest.Store(nil)
}

// Analyze runs one cycle over w and publishes the result. On error the
// history and the published result are unchanged.
func (s *Session) Analyze(w leads.Window) (*Result, error) {
	var (
		res *Result
		err error
	)
	s.tracker.Advance(func(h rpeak.History) rpeak.History {
		r, next, aerr := s.analyzer.Analyze(w, h)
		if aerr != nil {
			err = aerr
			return h
		}
		res = &r
		return next
	})
	if err != nil {
		return nil, err
	}
	s.latest.Store(res)
	s.cycles.Add(1)
	if s.sink != nil {
		s.sink(res)
	}
	return res, nil
}

// Step analyses the current source window when it holds at least
// minSeconds of signal. It reports whether a cycle ran.
func (s *Session) Step(minSeconds float64) (bool, error) {
	w := s.source.Window()
	if !(w.SampleRate > 0) || float64(w.Len()) < minSeconds*w.SampleRate {
		return false, nil
	}
	if _, err := s.Analyze(w); err != nil {
		return false, err
	}
	return true, nil
}

// Run drives Step from clock until ctx is done.
func (s *Session) Run(ctx context.Context, clock timeutil.Clock, opts RunOptions) error {
	if opts.Tick <= 0 {
		opts.Tick = DefaultRunOptions().Tick
	}
	if opts.Every < 1 {
		opts.Every = 1
	}
	ticker := clock.NewTicker(opts.Tick)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			ticks++
			if ticks%opts.Every != 0 {
				continue
			}
			if _, err := s.Step(opts.MinSeconds); err != nil {
				monitoring.Logf("[pipeline] cycle skipped: %v", err)
			}
		}
	}
}
