// Package clock provides the opaque monotonic tick source passed into
// every call that needs "now". Ticks are milliseconds since process start.
package clock

import (
	"sync/atomic"
	"time"
)

// Tick is an opaque monotonic timestamp. Zero means "no deadline".
type Tick uint64

var start = time.Now()

// Clock supplies ticks.
type Clock interface {
	Now() Tick
}

type monotonic struct{}

// Monotonic returns the process clock. time.Since reads the monotonic
// reading of start, so wall clock jumps never move it backwards.
func Monotonic() Clock { return monotonic{} }

// Tick 0 is reserved, so the first millisecond reports 1.
func (monotonic) Now() Tick {
	return Tick(time.Since(start).Milliseconds()) + 1
}

// After returns the tick d after now.
func After(c Clock, d time.Duration) Tick {
	return c.Now() + Tick(d.Milliseconds())
}

// Manual is a test clock moved by hand.
type Manual struct {
	now atomic.Uint64
}

func NewManual(start Tick) *Manual {
	m := &Manual{}
	m.now.Store(uint64(start))
	return m
}

func (m *Manual) Now() Tick { return Tick(m.now.Load()) }

// Advance moves the clock forward and returns the new tick.
func (m *Manual) Advance(d time.Duration) Tick {
	return Tick(m.now.Add(uint64(d.Milliseconds())))
}

func (m *Manual) Set(t Tick) { m.now.Store(uint64(t)) }
