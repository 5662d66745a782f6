package sink

import (
	"os"
	"path/filepath"

	"github.com/lightninglabs/arq/arq"
	"github.com/pkg/errors"
)

// File persists a transfer to a single file on disk. The file only ever
// appears complete: data is written to a temporary file next to it, synced
// and then renamed into place.
type File struct {
	path string
	perm os.FileMode
}

var _ arq.Sink = (*File)(nil)

// NewFile creates a sink that writes to path with mode 0600.
func NewFile(path string) *File {
	return &File{
		path: path,
		perm: 0600,
	}
}

// Path returns the destination path.
func (f *File) Path() string {
	return f.path
}

// Persist atomically replaces the destination with data.
func (f *File) Persist(data []byte) error {
	dir, name := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), f.perm)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}

	if err != nil {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			log.Warnf("Failed to remove temp file %s: %v",
				tmp.Name(), rmErr)
		}
		return errors.Wrapf(err, "write %s", f.path)
	}

	log.Debugf("Wrote %d bytes to %s", len(data), f.path)

	return nil
}
