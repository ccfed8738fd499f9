// Package monitoring is the diagnostic logging seam shared by every
// package: one swappable Logf plus a sampler for lines that can repeat at
// sample rate.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Sampler counts occurrences of a recurring condition and logs the first
// and then every Every-th one. The zero value logs every occurrence.
type Sampler struct {
	Every uint64
	n     atomic.Uint64
}

// Logf records one occurrence, logging it with the running count appended
// when it falls on the sampling interval. It returns the count.
func (s *Sampler) Logf(format string, v ...interface{}) uint64 {
	n := s.n.Add(1)
	if (n-1)%max(s.Every, 1) == 0 {
		Logf(format+" (%d so far)", append(v, n)...)
	}
	return n
}

// Count returns the number of occurrences recorded.
func (s *Sampler) Count() uint64 { return s.n.Load() }
