package reclaim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/infra/arena"
	"warden/infra/clock"
	"warden/infra/lifetime"
	"warden/infra/metrics"
)

type recorder struct {
	mu       sync.Mutex
	tracked  []uintptr
	released []uintptr
	freed    []uintptr
}

func (r *recorder) Tracked(addr uintptr, _ int, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, addr)
}

func (r *recorder) Released(addr uintptr, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, addr)
}

func (r *recorder) Freed(addr uintptr, _ int, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freed = append(r.freed, addr)
}

func (r *recorder) freedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.freed)
}

func noLoop(func()) error { return errors.New("no threads") }

func newManual(t *testing.T, obs Observer) (*Reclaimer, *lifetime.Tree, *arena.Heap) {
	t.Helper()
	c := clock.NewManual(100)
	tree := lifetime.New(c)
	r := New(tree, Config{Launcher: noLoop, Clock: c, Observer: obs})
	t.Cleanup(r.Destroy)
	return r, tree, arena.NewHeap()
}

func TestLaunchFailureDegradesToManual(t *testing.T) {
	r, tree, _ := newManual(t, nil)
	assert.Equal(t, ModeManual, r.Mode())
	assert.True(t, tree.ManualCleanup())

	r.ManualRotate(false)
	assert.Equal(t, ModeManual, r.Mode(), "no loop to hand rotation to")
	assert.EqualValues(t, 1, r.Rotate())
}

func TestRotateIsStrictlyIncreasing(t *testing.T) {
	r, _, _ := newManual(t, nil)
	var last uint64
	for i := 0; i < 100; i++ {
		e := r.Rotate()
		require.Greater(t, e, last)
		last = e
	}
	assert.Equal(t, last, r.Epoch())
}

func TestConcurrentRotateLosesNoEpochs(t *testing.T) {
	r, _, _ := newManual(t, nil)
	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 250; j++ {
				r.Rotate()
			}
		})
	}
	wg.Wait()
	assert.EqualValues(t, 2000, r.Epoch())
}

func TestRegisterReleaseSweep(t *testing.T) {
	obs := &recorder{}
	r, tree, heap := newManual(t, obs)

	b, err := heap.Alloc(128)
	require.NoError(t, err)
	require.NoError(t, r.Register(b))
	assert.Equal(t, []uintptr{b.Addr()}, obs.tracked)

	r.Rotate()
	assert.Equal(t, 1, tree.Len(), "root survives rotation while referenced")

	require.NoError(t, r.Release(b.Addr()))
	assert.Equal(t, 1, tree.Len(), "freed by the sweep, not by release")

	r.Rotate()
	assert.Zero(t, tree.Len())
	assert.Zero(t, heap.Live())
	assert.Equal(t, []uintptr{b.Addr()}, obs.freed)
	assert.NotZero(t, r.LastCleanup())

	assert.ErrorIs(t, r.Release(b.Addr()), ErrUnknownBlock)
}

func TestRegisterRejects(t *testing.T) {
	r, _, heap := newManual(t, nil)
	assert.ErrorIs(t, r.Register(arena.Block{}), ErrInvalidBlock)

	b, err := heap.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, r.Register(b))
	assert.ErrorIs(t, r.Register(b), lifetime.ErrDuplicate)

	r.Destroy()
	assert.ErrorIs(t, r.Register(b), ErrShutdown)
	assert.ErrorIs(t, r.Release(b.Addr()), ErrShutdown)
}

func TestDestroyFreesEverything(t *testing.T) {
	obs := &recorder{}
	r, tree, heap := newManual(t, obs)
	for i := 0; i < 10; i++ {
		b, err := heap.Alloc(16)
		require.NoError(t, err)
		require.NoError(t, r.Register(b))
	}
	r.Destroy()
	r.Destroy()

	assert.Equal(t, ModeShutdown, r.Mode())
	assert.Zero(t, tree.Len())
	assert.Zero(t, heap.Live())
	assert.Equal(t, 10, obs.freedCount())
}

func TestAutomaticLoopRotates(t *testing.T) {
	mm := metrics.New(nil).Reclaimer
	tree := lifetime.New(nil)
	var rotations atomic.Int64
	r := New(tree, Config{
		MinRotate: time.Millisecond,
		Metrics:   mm,
		OnRotate:  func(uint64) { rotations.Add(1) },
	})
	defer r.Destroy()

	assert.Equal(t, ModeAutomatic, r.Mode())
	assert.Eventually(t, func() bool { return r.Epoch() >= 3 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(mm.Rotations), 3.0)
	assert.GreaterOrEqual(t, rotations.Load(), int64(3))
}

func TestManualModeParksLoop(t *testing.T) {
	r := New(lifetime.New(nil), Config{MinRotate: time.Millisecond, MaxRotate: time.Hour})
	defer r.Destroy()

	r.ManualRotate(true)
	assert.Equal(t, ModeManual, r.Mode())
	// let an in-flight rotation finish
	time.Sleep(20 * time.Millisecond)
	parked := r.Epoch()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, parked, r.Epoch())

	r.ManualRotate(false)
	assert.Eventually(t, func() bool { return r.Epoch() > parked }, 2*time.Second, time.Millisecond)
}

func TestDestroyWakesParkedLoop(t *testing.T) {
	r := New(lifetime.New(nil), Config{MaxRotate: time.Hour})
	r.ManualRotate(true)

	done := make(chan struct{})
	go func() {
		r.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not return")
	}
}

func TestDestroyWhileToggling(t *testing.T) {
	r := New(lifetime.New(nil), Config{MinRotate: time.Microsecond, MaxRotate: time.Hour})

	stop := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				r.ManualRotate(i%2 == 0)
			}
		}
	})

	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		r.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not return while mode toggled")
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, ModeShutdown, r.Mode())
}

// gatedTree parks Add until proceed is closed.
type gatedTree struct {
	*lifetime.Tree
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedTree) Add(b arena.Block, expiry clock.Tick, root bool) error {
	close(g.entered)
	<-g.proceed
	return g.Tree.Add(b, expiry, root)
}

func TestDestroyWaitsForInFlightRegister(t *testing.T) {
	c := clock.NewManual(100)
	tree := &gatedTree{Tree: lifetime.New(c), entered: make(chan struct{}), proceed: make(chan struct{})}
	r := New(tree, Config{Launcher: noLoop, Clock: c})
	heap := arena.NewHeap()
	b, err := heap.Alloc(32)
	require.NoError(t, err)

	registered := make(chan error, 1)
	go func() { registered <- r.Register(b) }()
	<-tree.entered

	destroyed := make(chan struct{})
	go func() {
		r.Destroy()
		close(destroyed)
	}()
	select {
	case <-destroyed:
		t.Fatal("destroy finished while a register was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(tree.proceed)
	require.NoError(t, <-registered)
	select {
	case <-destroyed:
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not return")
	}
	assert.Zero(t, tree.Len())
	assert.Zero(t, heap.Live())
	assert.ErrorIs(t, r.Register(b), ErrShutdown)
}

func TestReleaseReportsEagerFree(t *testing.T) {
	obs := &recorder{}
	r, tree, heap := newManual(t, obs)
	b, err := heap.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, r.Register(b))

	tree.SetManualCleanup(false)
	require.NoError(t, r.Release(b.Addr()))
	assert.Zero(t, tree.Len())
	assert.Zero(t, heap.Live())
	assert.Equal(t, []uintptr{b.Addr()}, obs.released)
	assert.Equal(t, []uintptr{b.Addr()}, obs.freed)
}

func TestEpochGaugeTracksLatestRotation(t *testing.T) {
	mm := metrics.New(nil).Reclaimer
	r := New(lifetime.New(nil), Config{Launcher: noLoop, Metrics: mm})
	defer r.Destroy()

	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 200; j++ {
				r.Rotate()
			}
		})
	}
	wg.Wait()
	assert.EqualValues(t, 1600, r.Epoch())
	assert.Equal(t, float64(r.Epoch()), testutil.ToFloat64(mm.Epoch))
}
