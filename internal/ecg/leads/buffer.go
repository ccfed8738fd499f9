package leads

import (
	"fmt"
	"sync"
)

// Ring is a fixed-capacity circular buffer of samples for one lead.
// It is not safe for concurrent use; Buffer adds locking.
type Ring struct {
	data []float64
	head int // next write position
	n    int
}

// NewRing returns a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]float64, capacity)}
}

// Push appends v, overwriting the oldest sample when full.
func (r *Ring) Push(v float64) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.n < len(r.data) {
		r.n++
	}
}

// Len returns the number of samples held.
func (r *Ring) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.data) }

// Snapshot copies the held samples, oldest first.
func (r *Ring) Snapshot() []float64 {
	out := make([]float64, r.n)
	start := (r.head - r.n + len(r.data)) % len(r.data)
	k := copy(out, r.data[start:min(start+r.n, len(r.data))])
	copy(out[k:], r.data[:r.n-k])
	return out
}

// Reset discards all samples.
func (r *Ring) Reset() {
	r.head = 0
	r.n = 0
}

// Window is a read-only view of the most recent samples of several leads
// at one sampling rate. All leads hold the same number of samples.
type Window struct {
	SampleRate float64
	Leads      map[Lead][]float64
}

// Len returns the per-lead sample count (0 for an empty window).
func (w Window) Len() int {
	for _, x := range w.Leads {
		return len(x)
	}
	return 0
}

// Validate checks the caller contract: positive finite sampling rate,
// non-nil buffers of equal length, and a Lead II buffer.
func (w Window) Validate() error {
	if !(w.SampleRate > 0) || w.SampleRate > 1e6 {
		return fmt.Errorf("sampling rate %v", w.SampleRate)
	}
	if w.Leads == nil {
		return fmt.Errorf("nil lead map")
	}
	ii, ok := w.Leads[II]
	if !ok || ii == nil {
		return fmt.Errorf("missing lead II buffer")
	}
	for l, x := range w.Leads {
		if !l.Valid() {
			return fmt.Errorf("invalid lead %d", int(l))
		}
		if x == nil {
			return fmt.Errorf("nil buffer for lead %s", l)
		}
		if len(x) != len(ii) {
			return fmt.Errorf("lead %s has %d samples, lead II has %d", l, len(x), len(ii))
		}
	}
	return nil
}

// Buffer holds one ring per standard lead and is safe for one writer and
// many readers. The acquisition layer pushes samples; the analysis
// pipeline takes windows.
type Buffer struct {
	mu         sync.RWMutex
	rings      [Count]*Ring
	sampleRate float64
	pushed     uint64
}

// NewBuffer returns a buffer of capacity samples per lead.
func NewBuffer(capacity int, sampleRate float64) *Buffer {
	b := &Buffer{sampleRate: sampleRate}
	for i := range b.rings {
		b.rings[i] = NewRing(capacity)
	}
	return b
}

// Push appends one sample instant across all leads.
func (b *Buffer) Push(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rings {
		r.Push(s[i])
	}
	b.pushed++
}

// Pushed returns the total number of sample instants pushed since creation.
func (b *Buffer) Pushed() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pushed
}

// Len returns the number of samples currently held per lead.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rings[0].Len()
}

// SampleRate returns the active sampling rate in Hz.
func (b *Buffer) SampleRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleRate
}

// SetSampleRate changes the sampling rate and discards held samples, which
// were taken at the old rate.
func (b *Buffer) SetSampleRate(fs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fs == b.sampleRate {
		return
	}
	b.sampleRate = fs
	for _, r := range b.rings {
		r.Reset()
	}
}

// Window copies the held samples of the requested leads (all leads when
// none are given).
func (b *Buffer) Window(want ...Lead) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(want) == 0 {
		want = All[:]
	}
	w := Window{SampleRate: b.sampleRate, Leads: make(map[Lead][]float64, len(want))}
	for _, l := range want {
		if l.Valid() {
			w.Leads[l] = b.rings[l].Snapshot()
		}
	}
	return w
}
