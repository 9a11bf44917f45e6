// Package clock provides server-side timestamps.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Monotonic issues strictly increasing millisecond timestamps on top of a
// base clock. Two calls never return the same millisecond, so ordering by
// timestamp is total within one process.
type Monotonic struct {
	mu   sync.Mutex
	base Clock
	last int64
}

// NewMonotonic wraps base. A nil base uses the system clock.
func NewMonotonic(base Clock) *Monotonic {
	if base == nil {
		base = System{}
	}
	return &Monotonic{base: base}
}

// NowMillis returns the next timestamp in unix milliseconds.
func (m *Monotonic) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.base.Now().UnixMilli()
	if now <= m.last {
		now = m.last + 1
	}
	m.last = now
	return now
}

// Now returns NowMillis as a time.Time.
func (m *Monotonic) Now() time.Time {
	return time.UnixMilli(m.NowMillis())
}

// Observe raises the floor so later stamps sort after ms. Used when state is
// restored from storage written by an earlier process.
func (m *Monotonic) Observe(ms int64) {
	m.mu.Lock()
	if ms > m.last {
		m.last = ms
	}
	m.mu.Unlock()
}

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

// Now returns the frozen time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// Stamper issues ordered unix-millisecond timestamps.
type Stamper interface {
	NowMillis() int64
}
