package bridge

import (
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/domain/owner"
)

func newBridge(t *testing.T, size int) (*Bridge, *owner.Owner, *owner.Owner) {
	t.Helper()
	a, b := owner.New(owner.PolicyDefault), owner.New(owner.PolicyDefault)
	br, err := New(a, b, make([]byte, size), First)
	require.NoError(t, err)
	return br, a, b
}

func TestNewValidates(t *testing.T) {
	a := owner.New(owner.PolicyDefault)
	_, err := New(a, nil, nil, First)
	assert.ErrorIs(t, err, ErrMissingOwner)
	_, err = New(nil, a, nil, First)
	assert.ErrorIs(t, err, ErrMissingOwner)
	_, err = New(a, owner.New(owner.PolicyDefault), nil, Side(7))
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestAccessors(t *testing.T) {
	br, a, b := newBridge(t, 4)
	assert.Same(t, a, br.Owner(First))
	assert.Same(t, b, br.Owner(Second))
	assert.Nil(t, br.Owner(Side(3)))
	assert.Equal(t, First, br.Active())
	assert.Len(t, br.Shared(), 4)

	require.NoError(t, br.Reassign(Second))
	assert.Equal(t, Second, br.Active())
	assert.ErrorIs(t, br.Reassign(Side(9)), ErrInvalidSide)
}

func TestRunRejects(t *testing.T) {
	br, _, _ := newBridge(t, 1)
	assert.ErrorIs(t, br.Run(First, nil, nil), ErrNilCallback)

	var nilBridge *Bridge
	assert.ErrorIs(t, nilBridge.Run(First, func([]byte, any) {}, nil), ErrUninitialized)

	br.Destroy()
	called := false
	assert.ErrorIs(t, br.Run(First, func([]byte, any) { called = true }, nil), ErrUninitialized)
	assert.False(t, called)
	assert.ErrorIs(t, br.Reassign(First), ErrUninitialized)
	assert.Nil(t, br.Owner(First))
}

func TestRunPassesSharedAndArg(t *testing.T) {
	br, _, _ := newBridge(t, 2)
	require.NoError(t, br.Run(Second, func(shared []byte, arg any) {
		shared[0] = arg.(byte)
	}, byte(42)))
	assert.Equal(t, byte(42), br.Shared()[0])
	assert.Equal(t, Second, br.LastRequest())
	assert.Equal(t, First, br.Active(), "run does not change the active side")
}

func TestRunSerializesBothSides(t *testing.T) {
	br, _, _ := newBridge(t, 8)
	inc := func(shared []byte, _ any) {
		v := binary.LittleEndian.Uint64(shared)
		binary.LittleEndian.PutUint64(shared, v+1)
	}

	var wg conc.WaitGroup
	for _, side := range []Side{First, Second} {
		wg.Go(func() {
			for i := 0; i < 1000; i++ {
				if err := br.Run(side, inc, nil); err != nil {
					t.Error(err)
					return
				}
			}
		})
	}
	wg.Wait()
	assert.EqualValues(t, 2000, binary.LittleEndian.Uint64(br.Shared()))
}

func TestRunLocksActiveOwner(t *testing.T) {
	br, a, b := newBridge(t, 1)

	// the inactive owner stays free while a second-side request runs
	require.NoError(t, br.Run(Second, func([]byte, any) {
		require.NoError(t, b.RegisterResource("counter", 1))
	}, nil))

	// holding the active owner blocks run regardless of requesting side
	a.Lock()
	var ran atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = br.Run(Second, func([]byte, any) { ran.Store(true) }, nil)
	}()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
	a.Unlock()
	<-done
	assert.True(t, ran.Load())
}

func TestReassignMovesLock(t *testing.T) {
	br, a, b := newBridge(t, 1)
	require.NoError(t, br.Reassign(Second))

	b.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = br.Run(First, func([]byte, any) {}, nil)
	}()
	select {
	case <-done:
		t.Fatal("run should wait for the active owner")
	case <-time.After(20 * time.Millisecond):
	}
	b.Unlock()
	<-done

	// reassign itself never touches owner locks
	a.Lock()
	require.NoError(t, br.Reassign(First))
	a.Unlock()
}
