package storage

import (
	"fmt"
	"io/fs"
	"os"
)

// Dir is an FS rooted at a local directory.
//
// All names are resolved with os.Root so they cannot escape the directory, the same way a mounted partition confines
// every path to its base path.
type Dir struct {
	root *os.Root
}

var _ FS = (*Dir)(nil)

// OpenDir opens the directory at path as an FS, creating it if needed.
func OpenDir(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage dir: path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir error: %w", err)
	}

	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("open storage dir error: %w", err)
	}

	return &Dir{root: root}, nil
}

func (d *Dir) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := d.root.OpenFile(name, flag, perm)
	if err != nil {
		// avoid returning a non-nil File interface holding a nil *os.File.
		return nil, err
	}

	return f, nil
}

func (d *Dir) Stat(name string) (fs.FileInfo, error) {
	return d.root.Stat(name)
}

func (d *Dir) Remove(name string) error {
	return d.root.Remove(name)
}

func (d *Dir) Rename(oldname, newname string) error {
	return d.root.Rename(oldname, newname)
}

// Path returns the directory the FS is rooted at.
func (d *Dir) Path() string {
	return d.root.Name()
}

// Close closes the underlying os.Root. Files that are already open remain usable.
func (d *Dir) Close() error {
	return d.root.Close()
}
