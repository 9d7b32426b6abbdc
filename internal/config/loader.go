package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
)

// Name is the name of the configuration file.
const Name = ".zappend"

// Loader can be used for loading .zappend configuration as well as overridden with default settings.
type Loader struct {
	cfg *ini.File
}

// Load will traverse the directory hierarchy upwards to find the first ".zappend" file available and load its
// contents into the Loader.
//
// The name of the .zappend file is returned, or an empty string if none was found in which case the Loader returns
// default settings.
func (l *Loader) Load(ctx context.Context) (string, error) {
	var (
		path        = filepath.Join(".", Name)
		fi          os.FileInfo
		err         error
		cur, parent string
	)

	if cur, err = os.Getwd(); err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if fi, err = os.Stat(path); err == nil && !fi.IsDir() {
			break
		}

		if err == nil || os.IsNotExist(err) {
			parent = filepath.Dir(cur)

			if parent == cur || parent == "." {
				l.cfg = ini.Empty()
				return "", nil
			}

			path = filepath.Join(parent, Name)
			cur = parent
			continue
		}

		return "", err
	}

	return path, l.LoadFile(path)
}

// LoadFile loads the contents of the named file into the Loader.
func (l *Loader) LoadFile(name string) (err error) {
	if l.cfg, err = ini.Load(name); err != nil {
		l.cfg = ini.Empty()
	}

	return err
}

func (l *Loader) section(name string) *ini.Section {
	if l.cfg == nil {
		return nil
	}

	sec, err := l.cfg.GetSection(name)
	if err != nil {
		return nil
	}

	return sec
}

// DefaultLoader is the default Loader instance for package-level methods.
var DefaultLoader = &Loader{cfg: ini.Empty()}

// Load calls Loader.Load on the DefaultLoader instance.
func Load(ctx context.Context) (string, error) {
	return DefaultLoader.Load(ctx)
}
