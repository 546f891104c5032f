package lifetime

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/infra/arena"
	"warden/infra/clock"
)

func newTree(t *testing.T) (*Tree, *arena.Heap, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(1000)
	tr := New(c)
	tr.SetManualCleanup(true)
	return tr, arena.NewHeap(), c
}

func alloc(t *testing.T, h *arena.Heap, size int) arena.Block {
	t.Helper()
	b, err := h.Alloc(size)
	require.NoError(t, err)
	return b
}

func released(_ Sweep, ok bool) bool { return ok }

// blackHeight checks the red-black invariants below n and returns the
// number of black nodes on every path to a leaf.
func blackHeight(t *testing.T, tr *Tree, n *Node) int {
	if n == tr.nil {
		return 1
	}
	if n.color == red {
		require.Equal(t, black, n.left.color, "red node with red child")
		require.Equal(t, black, n.right.color, "red node with red child")
	}
	if n.left != tr.nil {
		require.Less(t, n.left.addr, n.addr)
	}
	if n.right != tr.nil {
		require.Greater(t, n.right.addr, n.addr)
	}
	l, r := blackHeight(t, tr, n.left), blackHeight(t, tr, n.right)
	require.Equal(t, l, r, "unequal black height")
	if n.color == black {
		return l + 1
	}
	return l
}

func TestAddFindDuplicate(t *testing.T) {
	tr, h, _ := newTree(t)
	b := alloc(t, h, 64)

	require.NoError(t, tr.Add(b, 0, true))
	n := tr.Find(b.Addr())
	require.NotNil(t, n)
	assert.Equal(t, 64, n.Size())
	assert.EqualValues(t, 1, n.Refs())
	assert.True(t, n.Root())

	assert.ErrorIs(t, tr.Add(b, 0, true), ErrDuplicate)
	assert.ErrorIs(t, tr.Add(arena.Block{}, 0, true), ErrEmptyBlock)
	assert.Equal(t, 1, tr.Len())
	assert.EqualValues(t, 64, tr.Bytes())
	assert.Nil(t, tr.Find(b.Addr()+1))
}

func TestCleanupFreesOnlyUnreferenced(t *testing.T) {
	tr, h, c := newTree(t)
	kept := alloc(t, h, 8)
	dropped := alloc(t, h, 16)
	require.NoError(t, tr.Add(kept, 0, true))
	require.NoError(t, tr.Add(dropped, 0, true))

	require.True(t, released(tr.ReleaseAddr(dropped.Addr())))
	// manual mode: nothing freed until a sweep
	assert.Equal(t, 2, h.Live())

	s := tr.PerformCleanup(c.Now())
	require.Equal(t, 1, s.Freed())
	assert.Equal(t, dropped.Addr(), s.Blocks[0].Addr)
	assert.EqualValues(t, 16, s.Bytes)
	assert.Equal(t, 1, h.Live())
	assert.NotNil(t, tr.Find(kept.Addr()))
}

func TestCleanupRespectsExpiry(t *testing.T) {
	tr, h, c := newTree(t)
	b := alloc(t, h, 8)
	require.NoError(t, tr.Add(b, clock.After(c, time.Second), false))

	assert.Zero(t, tr.PerformCleanup(c.Now()).Freed())
	c.Advance(time.Second)
	assert.Equal(t, 1, tr.PerformCleanup(c.Now()).Freed())
}

func TestReleaseNeverUnderflows(t *testing.T) {
	tr, h, _ := newTree(t)
	b := alloc(t, h, 8)
	require.NoError(t, tr.Add(b, 0, true))
	n := tr.Find(b.Addr())

	assert.True(t, released(tr.Release(n)))
	assert.False(t, released(tr.Release(n)))
	assert.False(t, released(tr.ReleaseAddr(b.Addr())))
	assert.True(t, tr.Retain(n))
	assert.EqualValues(t, 1, n.Refs())
	assert.False(t, released(tr.Release(nil)))
	assert.False(t, released(tr.ReleaseAddr(b.Addr()+1)))
}

func TestAutomaticReleaseFreesEagerly(t *testing.T) {
	tr, h, _ := newTree(t)
	tr.SetManualCleanup(false)
	b := alloc(t, h, 8)
	require.NoError(t, tr.Add(b, 0, true))

	s, ok := tr.ReleaseAddr(b.Addr())
	require.True(t, ok)
	require.Equal(t, 1, s.Freed())
	assert.Equal(t, b.Addr(), s.Blocks[0].Addr)
	assert.NoError(t, s.Blocks[0].Err)
	assert.Zero(t, tr.Len())
	assert.Zero(t, h.Live())
}

func TestEagerFreeReportsError(t *testing.T) {
	tr, h, _ := newTree(t)
	tr.SetManualCleanup(false)
	b := alloc(t, h, 8)
	require.NoError(t, tr.Add(b, 0, true))
	// the allocator already dropped it, so the tree's free fails
	require.NoError(t, b.Free())

	s, ok := tr.ReleaseAddr(b.Addr())
	require.True(t, ok)
	require.Equal(t, 1, s.Freed())
	assert.ErrorIs(t, s.Blocks[0].Err, arena.ErrDoubleFree)
	assert.Zero(t, tr.Len())
}

func TestReleaseAddrIgnoresRecycledNode(t *testing.T) {
	tr, h, c := newTree(t)
	old := alloc(t, h, 8)
	require.NoError(t, tr.Add(old, 0, true))
	require.True(t, released(tr.ReleaseAddr(old.Addr())))
	require.Equal(t, 1, tr.PerformCleanup(c.Now()).Freed())

	// a stale second release of the freed address hits nothing
	assert.False(t, released(tr.ReleaseAddr(old.Addr())))

	fresh := alloc(t, h, 8)
	require.NoError(t, tr.Add(fresh, 0, true))
	n := tr.Find(fresh.Addr())
	require.NotNil(t, n)
	assert.EqualValues(t, 1, n.Refs())
}

func TestFreeAll(t *testing.T) {
	tr, h, _ := newTree(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Add(alloc(t, h, 32), 0, true))
	}
	s := tr.FreeAll()
	assert.Equal(t, 10, s.Freed())
	assert.EqualValues(t, 320, s.Bytes)
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Bytes())
	assert.Zero(t, h.Live())
}

func TestRandomizedInvariants(t *testing.T) {
	tr, h, c := newTree(t)
	rng := rand.New(rand.NewSource(42))
	var blocks []arena.Block
	for i := 0; i < 500; i++ {
		b := alloc(t, h, 1+rng.Intn(64))
		blocks = append(blocks, b)
		require.NoError(t, tr.Add(b, 0, true))
	}
	blackHeight(t, tr, tr.root)

	rng.Shuffle(len(blocks), func(i, j int) { blocks[i], blocks[j] = blocks[j], blocks[i] })
	for _, b := range blocks[:250] {
		require.True(t, released(tr.ReleaseAddr(b.Addr())))
	}
	s := tr.PerformCleanup(c.Now())
	assert.Equal(t, 250, s.Freed())
	assert.Equal(t, 250, tr.Len())
	blackHeight(t, tr, tr.root)

	var prev uintptr
	tr.Walk(func(n *Node) bool {
		assert.Greater(t, n.Addr(), prev)
		prev = n.Addr()
		return true
	})
}
