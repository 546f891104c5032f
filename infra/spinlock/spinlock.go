// Package spinlock implements a backoff spinlock: busy-wait with a
// scheduler pause, escalating to a short sleep once a bounded number of
// spins has failed.
package spinlock

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	spinLimit = 64
	backoff   = 50 * time.Microsecond
)

// Lock is a spinlock. The zero value is unlocked. It satisfies sync.Locker.
type Lock struct {
	state atomic.Uint32
}

func (l *Lock) Lock() {
	spins := 0
	for !l.TryLock() {
		if spins < spinLimit {
			spins++
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
	}
}

func (l *Lock) TryLock() bool {
	return l.state.Load() == 0 && l.state.CompareAndSwap(0, 1)
}

func (l *Lock) Unlock() {
	if l.state.Swap(0) == 0 {
		panic("spinlock: unlock of unlocked lock")
	}
}
