// Package mask implements a growable bit-set whose reads take no lock.
//
// Writers serialize on a mutex and, when a bit lies past the current
// capacity, publish a larger zero-filled copy of the word array. The
// superseded array is retired through an epoch collector rather than
// dropped, so a reader that loaded it before the swap keeps a valid
// view until it leaves its read section.
package mask

import (
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"warden/infra/logging"
	"warden/infra/memory"
	"warden/infra/metrics"
)

// ErrGrowFailed reports that growth would exceed the configured limit.
var ErrGrowFailed = errors.New("mask: cannot grow")

const wordBits = 64

// bitmap is one published backing array. Capacity is derived from the
// word count, so a reader always sees a matching pair.
type bitmap struct {
	words []uint64
}

func (b *bitmap) capacity() uint64 {
	if b == nil {
		return 0
	}
	return uint64(len(b.words)) * wordBits
}

// Mask is a growable bit-set. The zero value is not usable; call New.
type Mask struct {
	cur   atomic.Pointer[bitmap]
	plain *bitmap
	count atomic.Uint64

	mu        sync.Mutex
	collector *memory.Collector
	limit     uint64
	metrics   *metrics.Mask
	log       *slog.Logger
	onRetire  func(old []uint64)
}

// Option configures a Mask.
type Option func(*Mask)

// WithLimit caps capacity at bits (rounded down to a word boundary).
// Growth past it fails with ErrGrowFailed.
func WithLimit(bits uint64) Option {
	return func(m *Mask) { m.limit = bits / wordBits * wordBits }
}

func WithMetrics(mm *metrics.Mask) Option {
	return func(m *Mask) { m.metrics = mm }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mask) { m.log = logging.Component(l, "mask") }
}

// New returns an empty mask that retires superseded arrays through c.
// A nil c gets a private collector.
func New(c *memory.Collector, opts ...Option) *Mask {
	if c == nil {
		c = memory.NewCollector()
	}
	m := &Mask{collector: c, log: logging.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	empty := &bitmap{}
	m.cur.Store(empty)
	m.plain = empty
	return m
}

// Capacity returns the current capacity in bits, a multiple of 64.
func (m *Mask) Capacity() uint64 { return m.cur.Load().capacity() }

// Count returns the number of set bits.
func (m *Mask) Count() uint64 { return m.count.Load() }

// Ensure grows the mask until bit is addressable.
func (m *Mask) Ensure(bit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.ensureLocked(bit)
	return err
}

func (m *Mask) ensureLocked(bit uint64) (*bitmap, error) {
	old := m.cur.Load()
	capacity := old.capacity()
	if bit < capacity {
		return old, nil
	}

	next := capacity
	if next == 0 {
		next = wordBits
	}
	for next <= bit {
		if next > next*2 {
			return nil, errors.Wrapf(ErrGrowFailed, "bit %d", bit)
		}
		next *= 2
	}
	if m.limit > 0 && next > m.limit {
		if bit >= m.limit {
			return nil, errors.Wrapf(ErrGrowFailed, "bit %d beyond limit %d", bit, m.limit)
		}
		next = m.limit
	}

	words, err := allocWords(next / wordBits)
	if err != nil {
		return nil, errors.Wrapf(err, "grow to %d bits", next)
	}
	grown := &bitmap{words: words}
	for i := range old.words {
		grown.words[i] = atomic.LoadUint64(&old.words[i])
	}
	m.cur.Store(grown)
	m.plain = grown

	m.collector.Retire(old, func(v any) {
		if m.onRetire != nil {
			m.onRetire(v.(*bitmap).words)
		}
	})
	m.log.Debug("grew", "from_bits", capacity, "to_bits", next)
	if m.metrics != nil {
		m.metrics.Grows.Inc()
		m.metrics.Capacity.Set(float64(next))
	}
	return grown, nil
}

// allocWords turns a failed allocation into ErrGrowFailed instead of
// a panic; the mask is left untouched.
func allocWords(n uint64) (words []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			words, err = nil, errors.Wrapf(ErrGrowFailed, "%v", r)
		}
	}()
	return make([]uint64, n), nil
}

// Set sets bit, growing the mask if needed.
func (m *Mask) Set(bit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.ensureLocked(bit)
	if err != nil {
		return err
	}
	w, mask := bit/wordBits, uint64(1)<<(bit%wordBits)
	if atomic.OrUint64(&b.words[w], mask)&mask == 0 {
		m.count.Add(1)
	}
	return nil
}

// Clear clears bit. Bits past capacity are already clear.
func (m *Mask) Clear(bit uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.cur.Load()
	if bit >= b.capacity() {
		return
	}
	w, mask := bit/wordBits, uint64(1)<<(bit%wordBits)
	if atomic.AndUint64(&b.words[w], ^mask)&mask != 0 {
		m.count.Add(^uint64(0))
	}
}

// Test reports whether bit is set. It takes no lock and is safe against
// concurrent Set, Clear and Ensure.
func (m *Mask) Test(bit uint64) bool {
	g := m.collector.Pin()
	defer g.Unpin()
	b := m.cur.Load()
	if bit >= b.capacity() {
		return false
	}
	return atomic.LoadUint64(&b.words[bit/wordBits])&(1<<(bit%wordBits)) != 0
}

// TestUnsafe is Test without the pin or atomic loads. The caller must
// guarantee that no writer runs concurrently.
func (m *Mask) TestUnsafe(bit uint64) bool {
	b := m.plain
	if bit >= b.capacity() {
		return false
	}
	return b.words[bit/wordBits]&(1<<(bit%wordBits)) != 0
}

// Each calls fn for every set bit in ascending order, over a consistent
// array, until fn returns false.
func (m *Mask) Each(fn func(bit uint64) bool) {
	g := m.collector.Pin()
	defer g.Unpin()
	b := m.cur.Load()
	for i := range b.words {
		w := atomic.LoadUint64(&b.words[i])
		for w != 0 {
			tz := uint64(bits.TrailingZeros64(w))
			if !fn(uint64(i)*wordBits + tz) {
				return
			}
			w &= w - 1
		}
	}
}
