//go:build !unix

package arena

import "github.com/cockroachdb/errors"

const MmapName = "mmap"

var errNoMmap = errors.New("arena: mmap allocator requires a unix platform")

// Mmap is unavailable off unix; every allocation fails.
type Mmap struct{}

func NewMmap() *Mmap { return &Mmap{} }

func (m *Mmap) Name() string { return MmapName }

func (m *Mmap) Alloc(int) (Block, error) { return Block{}, errNoMmap }

func (m *Mmap) Free(Block) error { return errNoMmap }

func (m *Mmap) Live() int { return 0 }
