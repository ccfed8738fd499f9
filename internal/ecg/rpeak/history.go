package rpeak

import (
	"sync"

	"github.com/banshee-data/ecg.report/internal/ecg/ecgstat"
)

// HistoryCap is the number of per-cycle heart rates the smoothing median
// spans.
const HistoryCap = 5

// History is the cross-cycle state of the detector: a small ring of recent
// heart rates for smoothing and the previous cycle's median RR for pass
// selection. It is a value; Detect returns an updated copy and never
// mutates its argument, so independent sessions never share state.
type History struct {
	hr       [HistoryCap]float64
	n, next  int
	medianRR float64
}

// Len returns how many heart rates the ring holds.
func (h History) Len() int { return h.n }

// MedianRR returns the previous cycle's median RR in ms, 0 before the
// first computed cycle.
func (h History) MedianRR() float64 { return h.medianRR }

// SmoothedHR returns the median of the held heart rates.
func (h History) SmoothedHR() (float64, bool) {
	if h.n == 0 {
		return 0, false
	}
	return ecgstat.Median(h.hr[:h.n]), true
}

func (h History) push(hr, medianRR float64) History {
	h.hr[h.next] = hr
	h.next = (h.next + 1) % HistoryCap
	if h.n < HistoryCap {
		h.n++
	}
	h.medianRR = medianRR
	return h
}

// Tracker owns one History and applies updates to it atomically. A live
// session holds one Tracker per patient stream.
type Tracker struct {
	mu   sync.Mutex
	hist History
}

// Advance runs step with the current history and stores what it returns.
// Concurrent callers are serialised.
func (t *Tracker) Advance(step func(History) History) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hist = step(t.hist)
}

// Detect runs Detect against the tracked history.
func (t *Tracker) Detect(x []float64, fs float64) Result {
	var res Result
	t.Advance(func(h History) History {
		var next History
		res, next = Detect(x, fs, h)
		return next
	})
	return res
}

// History returns a copy of the tracked history.
func (t *Tracker) History() History {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hist
}

// Reset clears the tracked history, e.g. when the sampling rate changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hist = History{}
}
