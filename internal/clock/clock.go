// Package clock abstracts the monotonic tick source used for event timestamps
// and timer deadlines. One tick is one millisecond.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the monotonic tick source. Ticks never go backwards.
type Clock interface {
	Ticks() uint64
}

// Monotonic reads ticks from the runtime's monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a Monotonic clock starting near zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Ticks() uint64 {
	return uint64(time.Since(m.start) / time.Millisecond)
}

// Mock is a manually advanced clock for tests.
type Mock struct {
	now atomic.Uint64
}

// NewMock creates a Mock clock at tick zero.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Ticks() uint64 {
	return m.now.Load()
}

// Advance moves the mock clock forward by d ticks.
func (m *Mock) Advance(d uint64) {
	m.now.Add(d)
}

// Set moves the mock clock to an absolute tick.
func (m *Mock) Set(t uint64) {
	m.now.Store(t)
}
