package arena

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const HeapName = "heap"

// Heap allocates blocks on the Go heap. It keeps every live block
// reachable until Free so the collector never moves or drops memory
// that is only referenced through a raw pointer.
type Heap struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

func NewHeap() *Heap {
	return &Heap{live: make(map[uintptr][]byte)}
}

func (h *Heap) Name() string { return HeapName }

func (h *Heap) Alloc(size int) (Block, error) {
	if size <= 0 {
		return Block{}, ErrInvalidSize
	}
	buf := make([]byte, size)
	p := unsafe.Pointer(unsafe.SliceData(buf))

	h.mu.Lock()
	h.live[uintptr(p)] = buf
	h.mu.Unlock()
	return Block{Ptr: p, Size: size, Alloc: h}, nil
}

func (h *Heap) Free(b Block) error {
	if b.Alloc != Allocator(h) {
		return ErrForeignBlock
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[b.Addr()]; !ok {
		return errors.Wrapf(ErrDoubleFree, "heap block %#x", b.Addr())
	}
	delete(h.live, b.Addr())
	return nil
}

// Live returns the number of blocks not yet freed.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}
