// Package region describes raw buffers as move-only handles. A Region
// records where a buffer lives, how much of it is in use, which context
// and allocator it belongs to, and how many pins currently forbid
// transferring it.
//
// Transfers never partially apply: a call that fails leaves both
// regions exactly as they were. Regions carry no lock; callers serialize
// concurrent transfers touching the same region.
package region

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"

	"warden/infra/arena"
)

var (
	ErrNilRegion       = errors.New("region: nil region")
	ErrPinned          = errors.New("region: pinned")
	ErrNotEmpty        = errors.New("region: destination not empty")
	ErrContextMismatch = errors.New("region: context mismatch")
	ErrTagMismatch     = errors.New("region: allocator tag mismatch")
	ErrPinSaturated    = errors.New("region: pin count saturated")
	ErrNotPinned       = errors.New("region: not pinned")
	ErrInvalidLayout   = errors.New("region: invalid layout")
)

// ContextID names the execution context a buffer belongs to.
type ContextID uint32

// Tag identifies the allocator that owns a buffer.
type Tag string

// MaxPins is the saturation point of the pin count.
const MaxPins = math.MaxUint32

// noCopy makes `go vet` flag accidental copies of a Region.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Region is a move-only descriptor of a raw buffer. Invariants:
// size <= capacity, and ptr is nil exactly when size and capacity are 0.
type Region struct {
	_        noCopy
	ptr      unsafe.Pointer
	size     uint64
	capacity uint64
	pins     uint32
	ctx      ContextID
	tag      Tag
}

// New returns an empty region bound to ctx and tag.
func New(ctx ContextID, tag Tag) *Region {
	r := &Region{}
	r.Init(ctx, tag)
	return r
}

// Init empties r and binds it to ctx and tag.
func (r *Region) Init(ctx ContextID, tag Tag) {
	r.ptr, r.size, r.capacity, r.pins = nil, 0, 0, 0
	r.ctx, r.tag = ctx, tag
}

func (r *Region) Ptr() unsafe.Pointer { return r.ptr }
func (r *Region) Size() uint64        { return r.size }
func (r *Region) Capacity() uint64    { return r.capacity }
func (r *Region) Pins() uint32        { return r.pins }
func (r *Region) Context() ContextID  { return r.ctx }
func (r *Region) Tag() Tag            { return r.tag }
func (r *Region) Pinned() bool        { return r.pins > 0 }

// Empty reports whether r describes no buffer.
func (r *Region) Empty() bool {
	return r.ptr == nil && r.size == 0 && r.capacity == 0
}

// Bytes views the used part of the buffer.
func (r *Region) Bytes() []byte {
	if r.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(r.ptr), r.size)
}

// Pin forbids transfers until a matching Unpin.
func (r *Region) Pin() error {
	if r == nil {
		return ErrNilRegion
	}
	if r.pins == MaxPins {
		return ErrPinSaturated
	}
	r.pins++
	return nil
}

func (r *Region) Unpin() error {
	if r == nil {
		return ErrNilRegion
	}
	if r.pins == 0 {
		return ErrNotPinned
	}
	r.pins--
	return nil
}

// reset empties r but keeps its context and tag.
func (r *Region) reset() {
	r.ptr, r.size, r.capacity = nil, 0, 0
}

func (r *Region) takeFrom(src *Region) {
	r.ptr, r.size, r.capacity = src.ptr, src.size, src.capacity
	r.ctx, r.tag = src.ctx, src.tag
	src.reset()
}

func validLayout(ptr unsafe.Pointer, size, capacity uint64) bool {
	if size > capacity {
		return false
	}
	return (ptr == nil) == (size == 0 && capacity == 0)
}

// Adopt makes the empty, unpinned dst describe the given buffer.
func Adopt(dst *Region, ptr unsafe.Pointer, size, capacity uint64, tag Tag, ctx ContextID) error {
	if dst == nil {
		return ErrNilRegion
	}
	if dst.Pinned() {
		return ErrPinned
	}
	if !dst.Empty() {
		return ErrNotEmpty
	}
	if !validLayout(ptr, size, capacity) {
		return errors.Wrapf(ErrInvalidLayout, "ptr=%p size=%d capacity=%d", ptr, size, capacity)
	}
	dst.ptr, dst.size, dst.capacity = ptr, size, capacity
	dst.tag, dst.ctx = tag, ctx
	return nil
}

// AdoptBlock adopts a whole allocator block, fully used, tagged with
// the allocator's name.
func AdoptBlock(dst *Region, b arena.Block, ctx ContextID) error {
	var tag Tag
	if b.Alloc != nil {
		tag = Tag(b.Alloc.Name())
	}
	n := uint64(b.Size)
	if b.Ptr == nil {
		n = 0
	}
	return Adopt(dst, b.Ptr, n, n, tag, ctx)
}

func checkTransfer(dst, src *Region) error {
	if dst == nil || src == nil {
		return ErrNilRegion
	}
	if src.Pinned() || dst.Pinned() {
		return ErrPinned
	}
	return nil
}

// Move transfers src into the empty dst. Both must be unpinned and
// agree on context and allocator tag. src is left empty.
func Move(dst, src *Region) error {
	if dst != nil && dst == src {
		return nil
	}
	if err := checkTransfer(dst, src); err != nil {
		return err
	}
	if !dst.Empty() {
		return ErrNotEmpty
	}
	if dst.ctx != src.ctx {
		return ErrContextMismatch
	}
	if dst.tag != src.tag {
		return ErrTagMismatch
	}
	dst.takeFrom(src)
	return nil
}

// MoveCrossContext is Move without the context and tag agreement: dst
// is relabelled with ctx and tag, or with the source tag when tag is "".
func MoveCrossContext(dst, src *Region, ctx ContextID, tag Tag) error {
	if err := checkTransfer(dst, src); err != nil {
		return err
	}
	if tag == "" {
		tag = src.tag
	}
	if dst == src {
		dst.ctx, dst.tag = ctx, tag
		return nil
	}
	if !dst.Empty() {
		return ErrNotEmpty
	}
	dst.takeFrom(src)
	dst.ctx, dst.tag = ctx, tag
	return nil
}

// Steal unconditionally moves src into dst; only pins are checked. A
// buffer dst described before is dropped, so Steal belongs on forced
// reclamation paths where that buffer is already accounted for.
func Steal(dst, src *Region) error {
	if dst != nil && dst == src {
		return nil
	}
	if err := checkTransfer(dst, src); err != nil {
		return err
	}
	dst.takeFrom(src)
	return nil
}
