//go:build unix

package arena

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocators() []Allocator {
	return []Allocator{NewHeap(), NewMmap()}
}

func TestAllocWriteFree(t *testing.T) {
	for _, a := range allocators() {
		t.Run(a.Name(), func(t *testing.T) {
			b, err := a.Alloc(4096)
			require.NoError(t, err)
			require.False(t, b.Empty())
			assert.Equal(t, 4096, b.Size)

			buf := b.Bytes()
			buf[0], buf[4095] = 0xAB, 0xCD
			assert.Equal(t, byte(0xAB), b.Bytes()[0])

			require.NoError(t, b.Free())
			assert.True(t, errors.Is(a.Free(b), ErrDoubleFree))
		})
	}
}

func TestAllocRejectsBadSize(t *testing.T) {
	for _, a := range allocators() {
		_, err := a.Alloc(0)
		assert.ErrorIs(t, err, ErrInvalidSize, a.Name())
	}
}

func TestFreeForeignBlock(t *testing.T) {
	h, m := NewHeap(), NewMmap()
	b, err := h.Alloc(16)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Free(b), ErrForeignBlock)
	require.NoError(t, h.Free(b))
	assert.Zero(t, h.Live())
}

func TestByName(t *testing.T) {
	a, err := ByName("mmap")
	require.NoError(t, err)
	assert.Equal(t, MmapName, a.Name())

	a, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, HeapName, a.Name())

	_, err = ByName("buddy")
	assert.Error(t, err)
}
