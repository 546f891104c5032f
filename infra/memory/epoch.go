package memory

import "sync/atomic"

const inactive = ^uint64(0)

// ReaderEpoch is one participant's announcement slot. While entered it
// holds the global epoch observed at entry; otherwise it holds inactive.
type ReaderEpoch struct {
	epoch  atomic.Uint64
	global *atomic.Uint64
	_      [48]byte
}

func newReaderEpoch(global *atomic.Uint64) *ReaderEpoch {
	r := &ReaderEpoch{global: global}
	r.epoch.Store(inactive)
	return r
}

// Enter marks the reader as active at the current epoch. It must precede
// any load of a pointer that may be retired.
func (r *ReaderEpoch) Enter() {
	r.epoch.Store(r.global.Load())
}

// Exit marks the reader as inactive.
func (r *ReaderEpoch) Exit() {
	r.epoch.Store(inactive)
}

// Value returns the announced epoch, or ^uint64(0) when idle.
func (r *ReaderEpoch) Value() uint64 {
	return r.epoch.Load()
}

// Active reports whether the reader is inside a read section.
func (r *ReaderEpoch) Active() bool {
	return r.Value() != inactive
}

func minReaderEpoch(rs []*ReaderEpoch, min uint64) uint64 {
	for _, r := range rs {
		if r == nil {
			continue
		}
		if v := r.Value(); v < min {
			min = v
		}
	}
	return min
}
