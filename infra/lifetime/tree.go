// Package lifetime is the lifetime tree: a red-black tree of tracked
// blocks keyed by address. Each node carries a reference count and an
// optional expiry tick; a sweep frees every block whose count is zero and
// whose deadline, if any, has passed.
package lifetime

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"warden/infra/arena"
	"warden/infra/clock"
	"warden/infra/memory"
	"warden/infra/spinlock"
)

var (
	ErrDuplicate  = errors.New("lifetime: block already tracked")
	ErrEmptyBlock = errors.New("lifetime: empty block")
)

type color uint8

const (
	red color = iota
	black
)

// Node is one tracked block. Nodes are recycled after their block is
// freed, so a *Node must not be used once its block may have been swept.
type Node struct {
	addr   uintptr
	block  arena.Block
	expiry clock.Tick
	refs   atomic.Uint32
	root   bool

	color  color
	left   *Node
	right  *Node
	parent *Node
}

func (n *Node) Addr() uintptr      { return n.addr }
func (n *Node) Size() int          { return n.block.Size }
func (n *Node) Expiry() clock.Tick { return n.expiry }
func (n *Node) Refs() uint32       { return n.refs.Load() }
func (n *Node) Root() bool         { return n.root }
func (n *Node) Block() arena.Block { return n.block }

// Freed describes a block released by a sweep.
type Freed struct {
	Addr uintptr
	Size int
	Err  error
}

// Sweep is the outcome of a cleanup pass.
type Sweep struct {
	Blocks []Freed
	Bytes  uint64
}

func (s Sweep) Freed() int { return len(s.Blocks) }

// Tree is safe for concurrent use; every operation takes the internal
// spinlock. Blocks are freed after the lock is dropped.
type Tree struct {
	mu     spinlock.Lock
	root   *Node
	nil    *Node
	size   int
	bytes  uint64
	manual atomic.Bool
	clock  clock.Clock
	pool   *memory.Pool[Node]
}

// New builds an empty tree. c is consulted only when a release in
// automatic mode decides whether a deadline has passed.
func New(c clock.Clock) *Tree {
	if c == nil {
		c = clock.Monotonic()
	}
	sentinel := &Node{color: black}
	return &Tree{
		root:  sentinel,
		nil:   sentinel,
		clock: c,
		pool: memory.NewPool(func() *Node { return &Node{} }, func(n *Node) {
			n.addr, n.block, n.expiry, n.root = 0, arena.Block{}, 0, false
			n.refs.Store(0)
			n.left, n.right, n.parent = nil, nil, nil
		}),
	}
}

// Add tracks a block. A root starts with one reference; a non-root
// starts unreferenced and is eligible once its expiry passes.
func (t *Tree) Add(b arena.Block, expiry clock.Tick, root bool) error {
	if b.Empty() {
		return ErrEmptyBlock
	}
	z := t.pool.Get()
	z.addr, z.block, z.expiry, z.root = b.Addr(), b, expiry, root
	if root {
		z.refs.Store(1)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.insert(z) {
		t.pool.Put(z)
		return errors.Wrapf(ErrDuplicate, "addr %#x", b.Addr())
	}
	t.size++
	t.bytes += uint64(b.Size)
	return nil
}

// Find returns the node tracking addr, or nil.
func (t *Tree) Find(addr uintptr) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.search(addr)
	if n == t.nil {
		return nil
	}
	return n
}

// Retain adds a reference. It fails for a node no longer in the tree.
func (t *Tree) Retain(n *Node) bool {
	if n == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.search(n.addr) != n {
		return false
	}
	n.refs.Add(1)
	return true
}

// Release drops a reference. It never underflows. In automatic mode a
// node that reaches zero with its deadline passed is freed at once and
// reported in the returned Sweep; in manual mode it waits for the next
// PerformCleanup. ok is false for a node no longer tracked or already
// at zero.
func (t *Tree) Release(n *Node) (s Sweep, ok bool) {
	if n == nil {
		return Sweep{}, false
	}
	t.mu.Lock()
	if t.search(n.addr) != n {
		t.mu.Unlock()
		return Sweep{}, false
	}
	return t.releaseLocked(n)
}

// ReleaseAddr is Release on the node tracking addr, looked up under the
// same lock hold so a recycled node is never released by mistake.
func (t *Tree) ReleaseAddr(addr uintptr) (s Sweep, ok bool) {
	t.mu.Lock()
	n := t.search(addr)
	if n == t.nil {
		t.mu.Unlock()
		return Sweep{}, false
	}
	return t.releaseLocked(n)
}

// releaseLocked is entered with t.mu held and releases it.
func (t *Tree) releaseLocked(n *Node) (Sweep, bool) {
	if n.refs.Load() == 0 {
		t.mu.Unlock()
		return Sweep{}, false
	}
	if n.refs.Add(^uint32(0)) != 0 || t.manual.Load() || !due(n, t.clock.Now()) {
		t.mu.Unlock()
		return Sweep{}, true
	}
	t.remove(n)
	t.mu.Unlock()

	return t.free([]*Node{n}), true
}

// PerformCleanup frees every unreferenced block whose deadline passed.
func (t *Tree) PerformCleanup(now clock.Tick) Sweep {
	t.mu.Lock()
	var victims []*Node
	for n := t.minNode(t.root); n != t.nil; n = t.next(n) {
		if n.refs.Load() == 0 && due(n, now) {
			victims = append(victims, n)
		}
	}
	for _, n := range victims {
		t.remove(n)
	}
	t.mu.Unlock()

	return t.free(victims)
}

// FreeAll frees every tracked block regardless of references.
func (t *Tree) FreeAll() Sweep {
	t.mu.Lock()
	var victims []*Node
	for n := t.minNode(t.root); n != t.nil; n = t.next(n) {
		victims = append(victims, n)
	}
	t.root = t.nil
	t.size, t.bytes = 0, 0
	t.mu.Unlock()

	return t.free(victims)
}

// SetManualCleanup toggles whether releases free eagerly.
func (t *Tree) SetManualCleanup(manual bool) { t.manual.Store(manual) }

func (t *Tree) ManualCleanup() bool { return t.manual.Load() }

func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Tree) Bytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Walk visits nodes in address order until fn returns false. fn runs
// under the tree lock and must not call back into the tree.
func (t *Tree) Walk(fn func(*Node) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := t.minNode(t.root); n != t.nil; n = t.next(n) {
		if !fn(n) {
			return
		}
	}
}

func due(n *Node, now clock.Tick) bool {
	return n.expiry == 0 || n.expiry <= now
}

func (t *Tree) free(victims []*Node) Sweep {
	var s Sweep
	for _, n := range victims {
		err := n.block.Free()
		s.Blocks = append(s.Blocks, Freed{Addr: n.addr, Size: n.block.Size, Err: err})
		s.Bytes += uint64(n.block.Size)
		t.pool.Put(n)
	}
	return s
}

func (t *Tree) remove(n *Node) {
	t.deleteNode(n)
	t.size--
	t.bytes -= uint64(n.block.Size)
}
