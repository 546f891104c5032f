//go:build unix

package arena

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const MmapName = "mmap"

// Mmap allocates anonymous private mappings outside the Go heap. Memory
// is returned to the OS on Free, so a stale pointer faults instead of
// silently reading reused memory.
type Mmap struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

func NewMmap() *Mmap {
	return &Mmap{live: make(map[uintptr][]byte)}
}

func (m *Mmap) Name() string { return MmapName }

func (m *Mmap) Alloc(size int) (Block, error) {
	if size <= 0 {
		return Block{}, ErrInvalidSize
	}
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Block{}, errors.Wrapf(err, "mmap %d bytes", size)
	}
	p := unsafe.Pointer(unsafe.SliceData(data))

	m.mu.Lock()
	m.live[uintptr(p)] = data
	m.mu.Unlock()
	return Block{Ptr: p, Size: size, Alloc: m}, nil
}

func (m *Mmap) Free(b Block) error {
	if b.Alloc != Allocator(m) {
		return ErrForeignBlock
	}
	m.mu.Lock()
	data, ok := m.live[b.Addr()]
	if ok {
		delete(m.live, b.Addr())
	}
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrDoubleFree, "mmap block %#x", b.Addr())
	}
	return errors.Wrap(unix.Munmap(data), "munmap")
}

func (m *Mmap) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
