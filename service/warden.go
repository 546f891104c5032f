package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"warden/domain/bridge"
	"warden/domain/mask"
	"warden/domain/owner"
	"warden/domain/reclaim"
	"warden/domain/region"
	"warden/infra/arena"
	"warden/infra/clock"
	"warden/infra/lifetime"
	"warden/infra/logging"
	"warden/infra/memory"
	"warden/infra/metrics"
	"warden/infra/sequence"
)

var (
	ErrUnknownOwner = errors.New("service: unknown owner")
	ErrClosed       = errors.New("service: closed")
)

// Options wires a Warden. Zero fields take defaults: heap allocator,
// monotonic clock, discarded logs, no metrics, no observer.
type Options struct {
	MinRotate time.Duration
	MaxRotate time.Duration
	Manual    bool
	MaskLimit uint64

	Allocator arena.Allocator
	Observer  reclaim.Observer
	Metrics   *metrics.Set
	Logger    *slog.Logger
	Clock     clock.Clock
	Launcher  func(loop func()) error
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Epoch          uint64
	Mode           reclaim.Mode
	TrackedBlocks  int
	TrackedBytes   uint64
	Owners         int
	LiveOwners     uint64
	MaskCapacity   uint64
	PendingRetired int
	Allocator      string
}

// Warden is the only entry point that mutates the core.
type Warden struct {
	alloc     arena.Allocator
	collector *memory.Collector
	tree      *lifetime.Tree
	reclaimer *reclaim.Reclaimer
	live      *mask.Mask
	log       *slog.Logger

	mu     sync.RWMutex
	owners map[uint64]*owner.Owner
	free   []uint64
	slots  *sequence.Sequencer
	closed bool
}

func New(opts Options) *Warden {
	if opts.Allocator == nil {
		opts.Allocator = arena.NewHeap()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Monotonic()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	w := &Warden{
		alloc:     opts.Allocator,
		collector: memory.NewCollector(),
		tree:      lifetime.New(opts.Clock),
		log:       logging.Component(opts.Logger, "service"),
		owners:    make(map[uint64]*owner.Owner),
		slots:     sequence.New(0),
	}
	maskOpts := []mask.Option{mask.WithMetrics(opts.Metrics.Mask), mask.WithLogger(opts.Logger)}
	if opts.MaskLimit > 0 {
		maskOpts = append(maskOpts, mask.WithLimit(opts.MaskLimit))
	}
	w.live = mask.New(w.collector, maskOpts...)

	w.reclaimer = reclaim.New(w.tree, reclaim.Config{
		MinRotate: opts.MinRotate,
		MaxRotate: opts.MaxRotate,
		Launcher:  opts.Launcher,
		OnRotate:  w.afterRotate,
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics.Reclaimer,
		Observer:  opts.Observer,
	})
	if opts.Manual {
		w.reclaimer.ManualRotate(true)
	}
	w.log.Info("started", "allocator", w.alloc.Name(), "mode", w.reclaimer.Mode().String())
	return w
}

// afterRotate piggybacks mask retirement on the reclaimer's cadence.
func (w *Warden) afterRotate(uint64) {
	w.collector.Reclaim()
}

// CreateOwner creates an owner, assigns it a slot and marks the slot
// live. Slots of destroyed owners are reused.
func (w *Warden) CreateOwner(policy owner.Policy) (uint64, *owner.Owner, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, nil, ErrClosed
	}

	var slot uint64
	if n := len(w.free); n > 0 {
		slot, w.free = w.free[n-1], w.free[:n-1]
	} else {
		slot = w.slots.Next()
	}
	if err := w.live.Set(slot); err != nil {
		w.free = append(w.free, slot)
		return 0, nil, errors.Wrapf(err, "owner slot %d", slot)
	}
	o := owner.New(policy)
	w.owners[slot] = o
	w.log.Debug("owner created", "slot", slot, "id", o.ID().String(), "policy", policy.String())
	return slot, o, nil
}

// Owner returns the live owner in slot.
func (w *Warden) Owner(slot uint64) (*owner.Owner, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o, ok := w.owners[slot]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOwner, "slot %d", slot)
	}
	return o, nil
}

// DestroyOwner destroys the owner in slot and frees the slot.
func (w *Warden) DestroyOwner(slot uint64) error {
	w.mu.Lock()
	o, ok := w.owners[slot]
	if !ok {
		w.mu.Unlock()
		return errors.Wrapf(ErrUnknownOwner, "slot %d", slot)
	}
	delete(w.owners, slot)
	w.live.Clear(slot)
	w.free = append(w.free, slot)
	w.mu.Unlock()

	return o.Destroy()
}

// IsLive reports whether slot holds an owner. It takes no lock.
func (w *Warden) IsLive(slot uint64) bool { return w.live.Test(slot) }

// Track allocates size bytes and registers the block as an epoch root.
func (w *Warden) Track(size int) (arena.Block, error) {
	b, err := w.alloc.Alloc(size)
	if err != nil {
		return arena.Block{}, errors.Wrapf(err, "alloc %d", size)
	}
	if err := w.reclaimer.Register(b); err != nil {
		_ = b.Free()
		return arena.Block{}, err
	}
	return b, nil
}

// TrackRegion tracks a new block and describes it with a region bound
// to ctx and tagged with the allocator name.
func (w *Warden) TrackRegion(ctx region.ContextID, size int) (*region.Region, error) {
	b, err := w.Track(size)
	if err != nil {
		return nil, err
	}
	r := region.New(ctx, region.Tag(w.alloc.Name()))
	if err := region.AdoptBlock(r, b, ctx); err != nil {
		_ = w.reclaimer.Release(b.Addr())
		return nil, err
	}
	return r, nil
}

// Release drops the root reference on addr; the next rotation frees it.
func (w *Warden) Release(addr uintptr) error {
	return w.reclaimer.Release(addr)
}

// NewBridge joins the owners in two slots around a freshly tracked
// shared buffer of sharedSize bytes. The buffer is released by the
// returned close function.
func (w *Warden) NewBridge(first, second uint64, sharedSize int, initial bridge.Side) (*bridge.Bridge, func(), error) {
	a, err := w.Owner(first)
	if err != nil {
		return nil, nil, err
	}
	b, err := w.Owner(second)
	if err != nil {
		return nil, nil, err
	}
	blk, err := w.Track(sharedSize)
	if err != nil {
		return nil, nil, err
	}
	br, err := bridge.New(a, b, blk.Bytes(), initial)
	if err != nil {
		_ = w.reclaimer.Release(blk.Addr())
		return nil, nil, err
	}
	closeFn := func() {
		br.Destroy()
		if err := w.reclaimer.Release(blk.Addr()); err != nil {
			w.log.Warn("release bridge buffer", "addr", blk.Addr(), "err", err)
		}
	}
	return br, closeFn, nil
}

func (w *Warden) Rotate() uint64 { return w.reclaimer.Rotate() }

func (w *Warden) SetManual(enabled bool) { w.reclaimer.ManualRotate(enabled) }

func (w *Warden) Epoch() uint64 { return w.reclaimer.Epoch() }

func (w *Warden) Stats() Stats {
	blocks, bytes := w.reclaimer.Tracked()
	w.mu.RLock()
	owners := len(w.owners)
	w.mu.RUnlock()
	return Stats{
		Epoch:          w.reclaimer.Epoch(),
		Mode:           w.reclaimer.Mode(),
		TrackedBlocks:  blocks,
		TrackedBytes:   bytes,
		Owners:         owners,
		LiveOwners:     w.live.Count(),
		MaskCapacity:   w.live.Capacity(),
		PendingRetired: w.collector.Pending(),
		Allocator:      w.alloc.Name(),
	}
}

// Close stops the reclaimer, frees every tracked block and destroys the
// remaining owners. It is safe to call more than once.
func (w *Warden) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	owners := w.owners
	w.owners = make(map[uint64]*owner.Owner)
	w.mu.Unlock()

	w.reclaimer.Destroy()

	var errs error
	for slot, o := range owners {
		w.live.Clear(slot)
		if err := o.Destroy(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "owner slot %d", slot))
		}
	}
	w.collector.Drain()
	w.log.Info("closed", "epoch", w.reclaimer.Epoch())
	return errs
}
