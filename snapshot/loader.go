package snapshot

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// Load reads a dump. A missing file yields (nil, nil): snapshots are
// optional.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &s, nil
}
