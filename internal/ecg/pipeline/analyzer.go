package pipeline

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ecg.report/internal/ecg"
	"github.com/banshee-data/ecg.report/internal/ecg/conditioning"
	"github.com/banshee-data/ecg.report/internal/ecg/fiducial"
	"github.com/banshee-data/ecg.report/internal/ecg/leads"
	"github.com/banshee-data/ecg.report/internal/ecg/measure"
	"github.com/banshee-data/ecg.report/internal/ecg/medianbeat"
	"github.com/banshee-data/ecg.report/internal/ecg/rhythm"
	"github.com/banshee-data/ecg.report/internal/ecg/rpeak"
	"github.com/banshee-data/ecg.report/internal/monitoring"
	"github.com/banshee-data/ecg.report/internal/optional"
)

// DetectionLead is the lead R-peaks are found on.
const DetectionLead = leads.II

// Options configures an Analyzer.
type Options struct {
	Conditioning conditioning.Options
	// Parallelism bounds the per-lead goroutines; <= 0 means GOMAXPROCS.
	Parallelism int
}

// DefaultOptions returns the standard analysis configuration.
func DefaultOptions() Options {
	return Options{Conditioning: conditioning.DefaultOptions()}
}

// Analyzer runs one analysis cycle. It holds no mutable state and is safe
// for concurrent use.
type Analyzer struct {
	opts Options
}

// NewAnalyzer returns an analyzer using opts.
func NewAnalyzer(opts Options) *Analyzer {
	return &Analyzer{opts: opts}
}

// Options returns the analyzer's configuration.
func (a *Analyzer) Options() Options { return a.opts }

// Result is everything one cycle produced. It is never modified after
// Analyze returns it.
type Result struct {
	SampleRate float64
	Samples    int // per-lead window length
	Snapshot   measure.Snapshot
	// Rhythm is empty when fewer than two RR intervals were available.
	Rhythm optional.Value[rhythm.Classification]
	Peaks  []int
	RR     []float64
	Pass   rpeak.Pass
	// Beats holds the leads with a valid median beat.
	Beats map[leads.Lead]measure.LeadBeat
	// Indeterminate lists analysed leads without a median beat.
	Indeterminate []leads.Lead
	// Degraded lists leads analysed without filtering.
	Degraded []leads.Lead
	NotchHz  float64
}

// Template returns the median beat of l.
func (r *Result) Template(l leads.Lead) (medianbeat.Template, bool) {
	b, ok := r.Beats[l]
	return b.Template, ok
}

type leadState struct {
	present  bool
	signal   []float64
	degraded bool
	notchHz  float64
	beat     measure.LeadBeat
	err      error
}

// Analyze runs all stages over w. hist carries the R-peak history of the
// previous cycle; the history for the next cycle is returned and hist is
// left untouched.
//
// The only error is ecg.ErrInvalidInput for a window that breaks the
// caller contract. Data-quality problems leave individual fields empty.
func (a *Analyzer) Analyze(w leads.Window, hist rpeak.History) (Result, rpeak.History, error) {
	if err := w.Validate(); err != nil {
		return Result{}, hist, fmt.Errorf("%w: %v", ecg.ErrInvalidInput, err)
	}
	fs := w.SampleRate
	res := Result{SampleRate: fs, Samples: w.Len()}

	var state [leads.Count]leadState
	a.forEachLead(w, &state, func(l leads.Lead, st *leadState) {
		c := conditioning.Condition(w.Leads[l], fs, a.opts.Conditioning)
		st.signal, st.notchHz, st.degraded = c.Samples, c.NotchHz, c.Degraded
		if c.Degraded {
			monitoring.Logf("[pipeline] lead %s: analysing unfiltered signal: %v", l, c.Err)
		}
	})

	peaks, next := rpeak.Detect(state[DetectionLead].signal, fs, hist)
	res.Peaks, res.RR, res.Pass = peaks.Peaks, peaks.RR, peaks.Pass

	a.forEachLead(w, &state, func(l leads.Lead, st *leadState) {
		tpl, err := medianbeat.Build(st.signal, peaks.Peaks, fs)
		if err != nil {
			st.err = err
			return
		}
		baseline := medianbeat.Baseline(tpl)
		st.beat = measure.LeadBeat{
			Template: tpl,
			Baseline: baseline,
			Points:   fiducial.Detect(tpl, baseline),
		}
	})

	res.Beats = make(map[leads.Lead]measure.LeadBeat)
	for _, l := range leads.All {
		st := &state[l]
		if !st.present {
			continue
		}
		if st.degraded {
			res.Degraded = append(res.Degraded, l)
		}
		if st.notchHz > 0 && l == DetectionLead {
			res.NotchHz = st.notchHz
		}
		if st.err != nil {
			res.Indeterminate = append(res.Indeterminate, l)
			continue
		}
		res.Beats[l] = st.beat
	}

	res.Snapshot = measure.Compute(measure.Input{HR: peaks.SmoothedHR, Beats: res.Beats})
	res.Rhythm = rhythm.ClassifyRR(slices.Clone(res.RR), res.Snapshot.QRS)
	return res, next, nil
}

// forEachLead runs fn for every lead in w, in parallel. Each call only
// touches its own slot of state.
func (a *Analyzer) forEachLead(w leads.Window, state *[leads.Count]leadState, fn func(leads.Lead, *leadState)) {
	var g errgroup.Group
	limit := a.opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for _, l := range leads.All {
		if _, ok := w.Leads[l]; !ok {
			continue
		}
		st := &state[l]
		st.present = true
		g.Go(func() error {
			fn(l, st)
			return nil
		})
	}
	_ = g.Wait()
}
