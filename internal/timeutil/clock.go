// Package timeutil abstracts the wall clock so acquisition pacing, the
// analysis loop and request timing can be driven deterministically in
// tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of package time the monitor depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer mirrors *time.Timer with C as a method.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker mirrors *time.Ticker with C as a method.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock delegates to package time.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) NewTimer(d time.Duration) Timer  { return realTimer{time.NewTimer(d)} }
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (t realTimer) C() <-chan time.Time        { return t.t.C }
func (t realTimer) Stop() bool                 { return t.t.Stop() }
func (t realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time   { return t.t.C }
func (t realTicker) Stop()                 { t.t.Stop() }
func (t realTicker) Reset(d time.Duration) { t.t.Reset(d) }

// MockClock only moves when Advance or Set is called. Timers and tickers
// fire from Advance; like time.Ticker, a ticker that is not drained drops
// ticks rather than queueing them.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	alarms []*mockAlarm
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires every timer and ticker
// that came due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	alarms := append([]*mockAlarm(nil), c.alarms...)
	c.mu.Unlock()

	for _, a := range alarms {
		a.fire(now)
	}
}

func (c *MockClock) add(d time.Duration, repeat bool) *mockAlarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &mockAlarm{clock: c, ch: make(chan time.Time, 1), repeat: repeat}
	a.arm(c.now, d)
	c.alarms = append(c.alarms, a)
	return a
}

func (c *MockClock) NewTimer(d time.Duration) Timer   { return &MockTimer{c.add(d, false)} }
func (c *MockClock) NewTicker(d time.Duration) Ticker { return &MockTicker{c.add(d, true)} }

// Pending reports how many timers and tickers are still armed.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	alarms := append([]*mockAlarm(nil), c.alarms...)
	c.mu.Unlock()
	n := 0
	for _, a := range alarms {
		a.mu.Lock()
		if a.active {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

type mockAlarm struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	active   bool
	repeat   bool
}

func (a *mockAlarm) arm(now time.Time, d time.Duration) {
	a.interval = d
	a.next = now.Add(d)
	a.active = true
}

func (a *mockAlarm) fire(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active || now.Before(a.next) {
		return
	}
	select {
	case a.ch <- now:
	default:
	}
	if a.repeat && a.interval > 0 {
		a.next = now.Add(a.interval)
	} else {
		a.active = false
	}
}

func (a *mockAlarm) stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.active
	a.active = false
	return was
}

func (a *mockAlarm) reset(d time.Duration) bool {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.active
	a.arm(now, d)
	return was
}

// MockTimer fires once when the clock reaches its deadline.
type MockTimer struct{ a *mockAlarm }

func (t *MockTimer) C() <-chan time.Time        { return t.a.ch }
func (t *MockTimer) Stop() bool                 { return t.a.stop() }
func (t *MockTimer) Reset(d time.Duration) bool { return t.a.reset(d) }

// MockTicker fires each time the clock passes another interval.
type MockTicker struct{ a *mockAlarm }

func (t *MockTicker) C() <-chan time.Time   { return t.a.ch }
func (t *MockTicker) Stop()                 { t.a.stop() }
func (t *MockTicker) Reset(d time.Duration) { t.a.reset(d) }

// Trigger delivers a tick immediately, independent of the clock.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.a.ch <- now:
	default:
	}
}
