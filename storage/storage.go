// Package storage is the byte-oriented file system the container engine runs on.
//
// The engine only needs byte-range reads, writes at an offset, truncation, removal, and rename of named files. Any
// file system providing those can back a container; Dir is the implementation for a local directory such as the
// mount point of a flash partition.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/google/uuid"
)

// File is an open container file.
//
// *os.File satisfies File.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file; it does not change the I/O offset.
	Truncate(size int64) error
	// Stat returns the fs.FileInfo describing the file.
	Stat() (fs.FileInfo, error)
	// Sync commits the current contents of the file to stable storage.
	Sync() error
	// Name returns the name of the file as presented to OpenFile.
	Name() string
}

// FS opens and manages named files.
//
// Names are slash-separated paths relative to the root of the FS.
type FS interface {
	// OpenFile opens the named file with the given os.O_* flags.
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	// Stat returns the fs.FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)
	// Remove removes the named file.
	Remove(name string) error
	// Rename renames (moves) oldname to newname, replacing newname if it exists.
	Rename(oldname, newname string) error
}

// Size returns the current size of the file.
func Size(f File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	return fi.Size(), nil
}

// Exists returns true if the named file exists.
func Exists(fsys FS, name string) (bool, error) {
	switch _, err := fsys.Stat(name); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// CreateTemp creates a new file next to name that can later be renamed over it.
//
// The temp file is named "<name>.<uuid>.tmp" and is opened for read and write with os.O_EXCL.
func CreateTemp(fsys FS, name string) (File, string, error) {
	for range 10 {
		tmp := path.Join(path.Dir(name), fmt.Sprintf(".%s.%s.tmp", path.Base(name), uuid.NewString()))

		f, err := fsys.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		return f, tmp, nil
	}

	return nil, "", fmt.Errorf("create temp file for %s: too many collisions", name)
}
