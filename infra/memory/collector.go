package memory

import (
	"sync"
	"sync/atomic"
)

const (
	pinSlots    = 64
	initialRing = 256
)

type pinSlot struct {
	busy atomic.Bool
	r    *ReaderEpoch
}

// Collector is an epoch-based reclamation domain. Readers either
// register a long-lived ReaderEpoch (one per worker goroutine) or Pin a
// short-lived slot around a single read. Writers Retire superseded
// objects; Reclaim advances the epoch and runs the destructors that are
// now safe.
type Collector struct {
	global atomic.Uint64
	cursor atomic.Uint64
	slots  [pinSlots]pinSlot

	regMu   sync.Mutex
	readers atomic.Pointer[[]*ReaderEpoch]

	mu      sync.Mutex
	ring    *RetireRing
	pending atomic.Int64
	freed   atomic.Uint64
}

func NewCollector() *Collector {
	c := &Collector{ring: NewRetireRing(initialRing)}
	for i := range c.slots {
		c.slots[i].r = newReaderEpoch(&c.global)
	}
	empty := make([]*ReaderEpoch, 0)
	c.readers.Store(&empty)
	return c
}

// Register adds a long-lived participant. It starts idle.
func (c *Collector) Register() *ReaderEpoch {
	r := newReaderEpoch(&c.global)

	c.regMu.Lock()
	defer c.regMu.Unlock()
	old := *c.readers.Load()
	next := make([]*ReaderEpoch, len(old), len(old)+1)
	copy(next, old)
	next = append(next, r)
	c.readers.Store(&next)
	return r
}

// Deregister removes a participant; it no longer holds back reclamation.
func (c *Collector) Deregister(r *ReaderEpoch) {
	if r == nil {
		return
	}
	r.Exit()

	c.regMu.Lock()
	defer c.regMu.Unlock()
	old := *c.readers.Load()
	next := make([]*ReaderEpoch, 0, len(old))
	for _, x := range old {
		if x != r {
			next = append(next, x)
		}
	}
	c.readers.Store(&next)
}

// Guard is an entered read section obtained from Pin.
type Guard struct {
	c    *Collector
	r    *ReaderEpoch
	slot *pinSlot
}

// Pin enters a read section on a free slot. Pointers loaded after Pin
// stay valid until Unpin, even if they are retired meanwhile.
func (c *Collector) Pin() Guard {
	start := c.cursor.Add(1)
	for i := uint64(0); i < pinSlots; i++ {
		s := &c.slots[(start+i)%pinSlots]
		if s.busy.CompareAndSwap(false, true) {
			s.r.Enter()
			return Guard{c: c, r: s.r, slot: s}
		}
	}
	// every slot is taken: fall back to a dedicated participant
	r := c.Register()
	r.Enter()
	return Guard{c: c, r: r}
}

// Unpin leaves the read section.
func (g Guard) Unpin() {
	if g.r == nil {
		return
	}
	if g.slot == nil {
		g.c.Deregister(g.r)
		return
	}
	g.r.Exit()
	g.slot.busy.Store(false)
}

// Retire defers destroy(v) until no participant that could have observed
// v is still inside a read section. v must already be unreachable for
// new readers. A nil destroy just drops the reference.
func (c *Collector) Retire(v any, destroy func(any)) {
	if destroy == nil {
		destroy = func(any) {}
	}
	c.mu.Lock()
	e := retired{value: v, destroy: destroy, epoch: c.global.Load()}
	if !c.ring.Enqueue(e) {
		c.ring = c.ring.grow()
		c.ring.Enqueue(e)
	}
	c.mu.Unlock()
	c.pending.Add(1)
}

// Reclaim advances the epoch and runs every destructor that is due. It
// returns how many ran. Destructors run outside the collector lock.
func (c *Collector) Reclaim() int {
	c.global.Add(1)
	min := c.minActive()

	var due []retired
	c.mu.Lock()
	for {
		e, ok := c.ring.Peek()
		// FIFO: anything behind a not-yet-safe entry is newer
		if !ok || e.epoch >= min {
			break
		}
		c.ring.Dequeue()
		due = append(due, e)
	}
	c.mu.Unlock()

	for _, e := range due {
		e.destroy(e.value)
	}
	c.pending.Add(-int64(len(due)))
	c.freed.Add(uint64(len(due)))
	return len(due)
}

// Drain runs every pending destructor regardless of readers. Only for
// teardown, once no reader can run.
func (c *Collector) Drain() int {
	var due []retired
	c.mu.Lock()
	for {
		e, ok := c.ring.Dequeue()
		if !ok {
			break
		}
		due = append(due, e)
	}
	c.mu.Unlock()

	for _, e := range due {
		e.destroy(e.value)
	}
	c.pending.Add(-int64(len(due)))
	c.freed.Add(uint64(len(due)))
	return len(due)
}

func (c *Collector) minActive() uint64 {
	min := inactive
	for i := range c.slots {
		if v := c.slots[i].r.Value(); v < min {
			min = v
		}
	}
	return minReaderEpoch(*c.readers.Load(), min)
}

// Epoch returns the current global epoch.
func (c *Collector) Epoch() uint64 { return c.global.Load() }

// Pending returns the number of retirements not yet reclaimed.
func (c *Collector) Pending() int { return int(c.pending.Load()) }

// Reclaimed returns the total number of destructors run.
func (c *Collector) Reclaimed() uint64 { return c.freed.Load() }
