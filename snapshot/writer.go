package snapshot

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

const FileName = "snapshot.cbor"

type Writer struct {
	Dir string
}

// Write replaces Dir/snapshot.cbor with s. The file is written to a
// temporary name and renamed, so a reader never sees a partial dump.
func (w *Writer) Write(s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "snapshot dir")
	}
	data, err := cbor.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp, err := os.CreateTemp(w.Dir, FileName+".*")
	if err != nil {
		return errors.Wrap(err, "snapshot temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), w.Path()), "publish snapshot")
}

func (w *Writer) Path() string { return filepath.Join(w.Dir, FileName) }
