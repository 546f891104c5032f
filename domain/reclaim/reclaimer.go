// Package reclaim drives the lifetime tree through numbered epochs. A
// background loop rotates the epoch at a fixed cadence while in
// automatic mode and parks while in manual mode; every rotation sweeps
// the tree for blocks that are no longer referenced.
package reclaim

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"warden/infra/arena"
	"warden/infra/clock"
	"warden/infra/lifetime"
	"warden/infra/logging"
	"warden/infra/metrics"
)

var (
	ErrShutdown     = errors.New("reclaim: reclaimer is shut down")
	ErrInvalidBlock = errors.New("reclaim: invalid block")
	ErrUnknownBlock = errors.New("reclaim: block not tracked")
)

const (
	DefaultMinRotate = 10 * time.Millisecond
	DefaultMaxRotate = time.Second
)

// Mode is the rotation state.
type Mode uint8

const (
	ModeAutomatic Mode = iota
	ModeManual
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeAutomatic:
		return "automatic"
	case ModeManual:
		return "manual"
	case ModeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Tree is the lifetime tree the reclaimer drives. *lifetime.Tree
// implements it.
type Tree interface {
	Add(b arena.Block, expiry clock.Tick, root bool) error
	ReleaseAddr(addr uintptr) (lifetime.Sweep, bool)
	PerformCleanup(now clock.Tick) lifetime.Sweep
	SetManualCleanup(manual bool)
	FreeAll() lifetime.Sweep
	Len() int
	Bytes() uint64
}

// Observer receives block lifecycle transitions. Calls are made on the
// goroutine performing the transition and must not block for long.
type Observer interface {
	Tracked(addr uintptr, size int, epoch uint64)
	Released(addr uintptr, epoch uint64)
	Freed(addr uintptr, size int, epoch uint64)
}

// Config tunes a Reclaimer. Zero fields take defaults.
type Config struct {
	MinRotate time.Duration
	MaxRotate time.Duration

	// Launcher starts the rotation loop. The default runs it on a new
	// goroutine; an error leaves the reclaimer in manual mode.
	Launcher func(loop func()) error

	// OnRotate runs after every sweep with the new epoch.
	OnRotate func(epoch uint64)

	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Reclaimer
	Observer Observer
}

func (c *Config) withDefaults() {
	if c.MinRotate <= 0 {
		c.MinRotate = DefaultMinRotate
	}
	if c.MaxRotate <= 0 {
		c.MaxRotate = DefaultMaxRotate
	}
	if c.Launcher == nil {
		c.Launcher = func(loop func()) error {
			go loop()
			return nil
		}
	}
	if c.Clock == nil {
		c.Clock = clock.Monotonic()
	}
}

type Reclaimer struct {
	tree Tree
	cfg  Config
	log  *slog.Logger

	epoch       atomic.Uint64
	lastCleanup atomic.Uint64
	manual      atomic.Bool
	shutdown    atomic.Bool

	// life is held shared by Register and Release and exclusively while
	// Destroy flips shutdown, so no block lands after the final FreeAll.
	life sync.RWMutex
	// gauge orders epoch gauge writes against concurrent rotations.
	gauge sync.Mutex

	wake     chan struct{}
	done     chan struct{}
	launched bool
	once     sync.Once
}

// New starts a reclaimer over tree. Sweeps are driven only by Rotate,
// so the tree is switched to manual cleanup.
func New(tree Tree, cfg Config) *Reclaimer {
	cfg.withDefaults()
	r := &Reclaimer{
		tree: tree,
		cfg:  cfg,
		log:  logging.Component(cfg.Logger, "reclaim"),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	tree.SetManualCleanup(true)

	if err := cfg.Launcher(r.loop); err != nil {
		r.manual.Store(true)
		close(r.done)
		r.log.Warn("rotation loop not started, falling back to manual mode", "err", err)
	} else {
		r.launched = true
	}
	r.setManualGauge()
	return r
}

func (r *Reclaimer) loop() {
	defer close(r.done)
	for !r.shutdown.Load() {
		if r.manual.Load() {
			r.sleep(r.cfg.MaxRotate)
			continue
		}
		r.Rotate()
		r.sleep(r.cfg.MinRotate)
	}
}

// sleep waits until an absolute deadline or a wake signal. Early timer
// fires are re-armed for the remainder instead of returning.
func (r *Reclaimer) sleep(d time.Duration) {
	deadline := time.Now().Add(d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-r.wake:
			return
		case <-timer.C:
		}
		if r.shutdown.Load() {
			return
		}
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		timer.Reset(left)
	}
}

func (r *Reclaimer) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Register tracks b as a root of the current epoch. It has no expiry;
// it becomes collectable once released and a rotation sweeps it.
func (r *Reclaimer) Register(b arena.Block) error {
	r.life.RLock()
	defer r.life.RUnlock()
	if r.shutdown.Load() {
		return ErrShutdown
	}
	if b.Empty() {
		return ErrInvalidBlock
	}
	if err := r.tree.Add(b, 0, true); err != nil {
		return errors.Wrap(err, "register")
	}
	epoch := r.epoch.Load()
	if r.cfg.Observer != nil {
		r.cfg.Observer.Tracked(b.Addr(), b.Size, epoch)
	}
	if m := r.cfg.Metrics; m != nil {
		m.Tracked.Set(float64(r.tree.Len()))
	}
	return nil
}

// Release drops the root reference on the block at addr. A tree in
// automatic cleanup may free it on the spot.
func (r *Reclaimer) Release(addr uintptr) error {
	r.life.RLock()
	defer r.life.RUnlock()
	if r.shutdown.Load() {
		return ErrShutdown
	}
	sweep, ok := r.tree.ReleaseAddr(addr)
	if !ok {
		return errors.Wrapf(ErrUnknownBlock, "addr %#x", addr)
	}
	epoch := r.epoch.Load()
	if r.cfg.Observer != nil {
		r.cfg.Observer.Released(addr, epoch)
	}
	r.reportFreed(sweep, epoch)
	if m := r.cfg.Metrics; m != nil && sweep.Freed() > 0 {
		m.FreedBlocks.Add(float64(sweep.Freed()))
		m.FreedBytes.Add(float64(sweep.Bytes))
		m.Tracked.Set(float64(r.tree.Len()))
	}
	return nil
}

func (r *Reclaimer) reportFreed(sweep lifetime.Sweep, epoch uint64) {
	for _, f := range sweep.Blocks {
		if f.Err != nil {
			r.log.Error("free failed", "addr", f.Addr, "size", f.Size, "err", f.Err)
		}
		if r.cfg.Observer != nil {
			r.cfg.Observer.Freed(f.Addr, f.Size, epoch)
		}
	}
}

// Rotate advances the epoch and sweeps the tree. It is safe to call
// concurrently with the background loop.
func (r *Reclaimer) Rotate() uint64 {
	epoch := r.epoch.Add(1)
	now := r.cfg.Clock.Now()
	sweep := r.tree.PerformCleanup(now)
	r.lastCleanup.Store(uint64(now))

	r.reportFreed(sweep, epoch)
	if n := sweep.Freed(); n > 0 {
		r.log.Debug("swept", "epoch", epoch, "blocks", n, "bytes", sweep.Bytes)
	}
	if m := r.cfg.Metrics; m != nil {
		m.Rotations.Inc()
		r.gauge.Lock()
		m.Epoch.Set(float64(r.epoch.Load()))
		r.gauge.Unlock()
		m.FreedBlocks.Add(float64(sweep.Freed()))
		m.FreedBytes.Add(float64(sweep.Bytes))
		m.Tracked.Set(float64(r.tree.Len()))
	}
	if r.cfg.OnRotate != nil {
		r.cfg.OnRotate(epoch)
	}
	return epoch
}

// ManualRotate switches between manual and automatic rotation and wakes
// the loop so the change takes effect at once.
func (r *Reclaimer) ManualRotate(enabled bool) {
	if r.shutdown.Load() {
		return
	}
	if !r.launched && !enabled {
		r.log.Warn("no rotation loop, staying in manual mode")
		return
	}
	r.manual.Store(enabled)
	r.setManualGauge()
	r.signal()
}

func (r *Reclaimer) setManualGauge() {
	if m := r.cfg.Metrics; m != nil {
		v := 0.0
		if r.manual.Load() {
			v = 1
		}
		m.Manual.Set(v)
	}
}

func (r *Reclaimer) Epoch() uint64 { return r.epoch.Load() }

func (r *Reclaimer) Mode() Mode {
	switch {
	case r.shutdown.Load():
		return ModeShutdown
	case r.manual.Load():
		return ModeManual
	default:
		return ModeAutomatic
	}
}

// LastCleanup returns the tick of the most recent sweep, 0 if none.
func (r *Reclaimer) LastCleanup() clock.Tick { return clock.Tick(r.lastCleanup.Load()) }

// Tracked returns the number of blocks and bytes still in the tree.
func (r *Reclaimer) Tracked() (blocks int, bytes uint64) {
	return r.tree.Len(), r.tree.Bytes()
}

// Destroy stops the loop, waits for it to exit and frees every block
// still tracked. Later calls are no-ops.
func (r *Reclaimer) Destroy() {
	r.once.Do(func() {
		r.life.Lock()
		r.shutdown.Store(true)
		r.life.Unlock()
		r.signal()
		<-r.done

		sweep := r.tree.FreeAll()
		epoch := r.epoch.Load()
		r.reportFreed(sweep, epoch)
		if m := r.cfg.Metrics; m != nil {
			m.Tracked.Set(0)
		}
		r.log.Info("destroyed", "epoch", epoch, "freed_blocks", sweep.Freed(), "freed_bytes", sweep.Bytes)
	})
}
