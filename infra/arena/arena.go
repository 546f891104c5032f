// Package arena provides the raw-buffer allocators whose blocks are
// tracked by the lifetime tree and described by regions. Each allocator
// has a stable name that doubles as the region allocator tag.
package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidSize  = errors.New("arena: size must be positive")
	ErrForeignBlock = errors.New("arena: block belongs to another allocator")
	ErrDoubleFree   = errors.New("arena: block already freed")
)

// Allocator hands out and frees raw blocks.
type Allocator interface {
	Name() string
	Alloc(size int) (Block, error)
	Free(Block) error
}

// Block is a raw buffer and the allocator that owns it.
type Block struct {
	Ptr   unsafe.Pointer
	Size  int
	Alloc Allocator
}

// Addr is the block's address, used as its identity in the lifetime tree.
func (b Block) Addr() uintptr { return uintptr(b.Ptr) }

func (b Block) Empty() bool { return b.Ptr == nil }

// Bytes views the block as a byte slice.
func (b Block) Bytes() []byte {
	if b.Ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.Ptr), b.Size)
}

// Free returns the block to its allocator.
func (b Block) Free() error {
	if b.Alloc == nil {
		return errors.Wrap(ErrForeignBlock, "block has no allocator")
	}
	return b.Alloc.Free(b)
}

// ByName resolves the allocator names accepted in configuration.
func ByName(name string) (Allocator, error) {
	switch name {
	case HeapName, "":
		return NewHeap(), nil
	case MmapName:
		return NewMmap(), nil
	default:
		return nil, errors.Newf("arena: unknown allocator %q", name)
	}
}
