package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing ids. Zero is never issued, so
// callers may use it as "unassigned".
type Sequencer struct {
	last atomic.Uint64
}

// New starts a sequencer whose first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next issues the next id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset moves the sequencer forward to v. It never moves it backwards:
// journal reopen resumes after the highest persisted key.
func (s *Sequencer) Reset(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
