// Package zipper appends entries to a container file and repairs containers whose central directory was lost.
//
// Two append strategies are offered. Zipper.AppendInPlace mutates the container directly: it truncates the stale
// central directory, writes the new local file header and payload where the directory used to be, then writes a new
// directory and EOCD. It is fast and never rewrites existing payload bytes, but it is not atomic: if it is interrupted
// after the truncation and before the EOCD is written, the file is left without a usable directory. Use
// Zipper.Rebuild (or RebuildDirectoryByScan) to recover such a file from its local file headers. Zipper.AppendStaged
// instead writes the new container to a temporary file next to the original and renames it over the original once
// it is complete; the original is untouched if anything fails.
//
// Neither strategy locks anything. Callers must not run two operations against the same container concurrently.
package zipper

import (
	"log/slog"
	"time"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/storage"
)

const (
	// DefaultLevel is the default value for [Options.Level].
	DefaultLevel = 6

	// DefaultMaxEntrySize is the default value for [Options.MaxEntrySize], which is 256 MiB.
	DefaultMaxEntrySize = 256 * 1024 * 1024
)

// Options customises a Zipper.
type Options struct {
	// Level is the compression level passed to Codec, from 0 (store) to codec.BestCompression.
	//
	// Default to DefaultLevel.
	Level int

	// Method is the compression method of new entries.
	//
	// Directory markers, payloads of 3 bytes or fewer, and level 0 always use codec.Store regardless.
	//
	// Default to codec.Deflate.
	Method codec.Method

	// Codec provides compression and checksum.
	//
	// Default to codec.Default.
	Codec codec.Service

	// Logger receives debug logs about every mutation.
	//
	// Default to a logger that discards everything.
	Logger *slog.Logger

	// Clock provides the modification time of new entries.
	//
	// Default to time.Now.
	Clock func() time.Time

	// MaxEntrySize is the largest entry, compressed or uncompressed, that Rebuild reads back into memory to verify its
	// checksum. Larger entries are kept without verification.
	//
	// Default to DefaultMaxEntrySize.
	MaxEntrySize int64

	// SkipVerify disables the checksum verification of every recovered entry during Rebuild so that only the local
	// file headers are read.
	SkipVerify bool

	// Progress is called by Rebuild after each recovered entry.
	//
	// Default to nil which disables progress reporting.
	Progress ProgressReporter
}

// Zipper mutates the container at a fixed path.
//
// Zipper is not safe for use across multiple goroutines.
type Zipper struct {
	Options

	fsys storage.FS
	path string
}

// New returns a new Zipper for the container at the given path with customisation options.
//
// The container does not have to exist yet.
func New(fsys storage.FS, path string, optFns ...func(*Options)) *Zipper {
	z := &Zipper{
		Options: Options{
			Level:        DefaultLevel,
			Method:       codec.Deflate,
			Codec:        codec.Default,
			Clock:        time.Now,
			MaxEntrySize: DefaultMaxEntrySize,
		},
		fsys: fsys,
		path: path,
	}
	for _, fn := range optFns {
		fn(&z.Options)
	}

	if z.Codec == nil {
		z.Codec = codec.Default
	}
	if z.Clock == nil {
		z.Clock = time.Now
	}
	if z.Logger == nil {
		z.Logger = slog.New(slog.DiscardHandler)
	}
	if z.MaxEntrySize <= 0 {
		z.MaxEntrySize = DefaultMaxEntrySize
	}

	return z
}

// WithLevel sets [Options.Level].
func WithLevel(level int) func(*Options) {
	return func(opts *Options) {
		opts.Level = min(max(level, 0), codec.BestCompression)
	}
}

// WithBestCompression sets [Options.Level] to codec.BestCompression.
func WithBestCompression(opts *Options) {
	opts.Level = codec.BestCompression
}

// WithNoCompression sets [Options.Level] to 0 so that every entry is stored.
func WithNoCompression(opts *Options) {
	opts.Level = 0
}

// WithMethod sets [Options.Method].
func WithMethod(m codec.Method) func(*Options) {
	return func(opts *Options) {
		opts.Method = m
	}
}

// WithLogger sets [Options.Logger].
func WithLogger(logger *slog.Logger) func(*Options) {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// Path returns the path of the container.
func (z *Zipper) Path() string {
	return z.path
}

// AppendInPlace is a convenient wrapper around New and Zipper.AppendInPlace.
func AppendInPlace(fsys storage.FS, container, name string, payload []byte, comment string, level int) error {
	_, err := New(fsys, container, WithLevel(level)).AppendInPlace(name, payload, comment)
	return err
}

// AppendStaged is a convenient wrapper around New and Zipper.AppendStaged.
func AppendStaged(fsys storage.FS, container, name string, payload []byte, comment string, level int) error {
	_, err := New(fsys, container, WithLevel(level)).AppendStaged(name, payload, comment)
	return err
}

// RebuildDirectoryByScan is a convenient wrapper around New and Zipper.Rebuild.
func RebuildDirectoryByScan(fsys storage.FS, container string) (RebuildResult, error) {
	return New(fsys, container).Rebuild()
}
