package snapshot

import "time"

type Snapshot struct {
	Epoch   uint64       `cbor:"1,keyasint"`
	Mode    string       `cbor:"2,keyasint"`
	Created time.Time    `cbor:"3,keyasint"`
	Blocks  []BlockEntry `cbor:"4,keyasint"`
	Owners  []OwnerEntry `cbor:"5,keyasint"`
}

type BlockEntry struct {
	Addr   uint64 `cbor:"1,keyasint"`
	Size   int    `cbor:"2,keyasint"`
	Refs   uint32 `cbor:"3,keyasint"`
	Root   bool   `cbor:"4,keyasint"`
	Expiry uint64 `cbor:"5,keyasint,omitempty"`
}

type OwnerEntry struct {
	Slot      uint64 `cbor:"1,keyasint"`
	ID        string `cbor:"2,keyasint"`
	Policy    string `cbor:"3,keyasint"`
	Resources int    `cbor:"4,keyasint"`
	Functions int    `cbor:"5,keyasint"`
}

// TrackedBytes sums the block sizes.
func (s *Snapshot) TrackedBytes() uint64 {
	var n uint64
	for _, b := range s.Blocks {
		n += uint64(b.Size)
	}
	return n
}
