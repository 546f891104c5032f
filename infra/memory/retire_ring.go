package memory

import (
	"fmt"
	"sync/atomic"
)

// retired is a superseded object waiting for every reader that could
// have observed it to leave.
type retired struct {
	value   any
	destroy func(any)
	epoch   uint64
}

// RetireRing is a single-producer single-consumer FIFO of retirements.
// Head and tail live on separate cache lines.
type RetireRing struct {
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte
	buf   []retired
	mask  uint64
}

// NewRetireRing allocates a ring. size must be a power of two.
func NewRetireRing(size uint64) *RetireRing {
	if size == 0 || size&(size-1) != 0 {
		panic("memory: RetireRing size must be a power of two")
	}
	return &RetireRing{buf: make([]retired, size), mask: size - 1}
}

// Enqueue appends an entry; false when full.
func (r *RetireRing) Enqueue(e retired) bool {
	h := r.head
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = e
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Peek returns the oldest entry without removing it.
func (r *RetireRing) Peek() (retired, bool) {
	t := r.tail
	if t == atomic.LoadUint64(&r.head) {
		return retired{}, false
	}
	return r.buf[t&r.mask], true
}

// Dequeue removes the oldest entry.
func (r *RetireRing) Dequeue() (retired, bool) {
	t := r.tail
	if t == atomic.LoadUint64(&r.head) {
		return retired{}, false
	}
	e := r.buf[t&r.mask]
	r.buf[t&r.mask] = retired{}
	atomic.StoreUint64(&r.tail, t+1)
	return e, true
}

// grow returns a ring twice the size holding the same entries in order.
// The caller must own both ends.
func (r *RetireRing) grow() *RetireRing {
	next := NewRetireRing(uint64(len(r.buf)) * 2)
	for {
		e, ok := r.Dequeue()
		if !ok {
			return next
		}
		next.Enqueue(e)
	}
}

func (r *RetireRing) Len() int {
	return int(atomic.LoadUint64(&r.head) - atomic.LoadUint64(&r.tail))
}

func (r *RetireRing) Cap() int { return len(r.buf) }

func (r *RetireRing) IsEmpty() bool { return r.Len() == 0 }

func (r *RetireRing) String() string {
	return fmt.Sprintf("RetireRing{len=%d, cap=%d, head=%d, tail=%d}",
		r.Len(), r.Cap(), atomic.LoadUint64(&r.head), atomic.LoadUint64(&r.tail))
}
