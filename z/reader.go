// Package z reads containers written by zipper or by any other ZIP writer that does not use ZIP64.
//
// A Reader parses the central directory once upon Open and answers entry count, stat, and extract queries from it.
// Every Extract re-reads and re-decompresses the payload from storage; nothing is cached.
package z

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/storage"
	"github.com/nguyengg/zappend/z/cd"
)

const (
	// DefaultMaxEntrySize is the default value for [Options.MaxEntrySize], which is 256 MiB.
	DefaultMaxEntrySize = 256 * 1024 * 1024
)

// Options customises how a container is opened.
type Options struct {
	// SkipSort keeps the entries in the order of the central directory.
	//
	// By default, entries are sorted by name with a stable sort so that entries sharing the same name keep their
	// relative order from the central directory. Both orders contain the same entries.
	SkipSort bool

	// Codec provides decompression and checksum.
	//
	// Default to codec.Default.
	Codec codec.Service

	// MaxEntrySize is the largest compressed or uncompressed size that Extract is willing to hold in memory. Larger
	// entries fail with cd.ErrTooLarge.
	//
	// Default to DefaultMaxEntrySize.
	MaxEntrySize int64

	// Logger receives debug logs.
	//
	// Default to a logger that discards everything.
	Logger *slog.Logger
}

// WithSkipSort sets [Options.SkipSort] to true.
func WithSkipSort(opts *Options) {
	opts.SkipSort = true
}

// WithLogger sets [Options.Logger].
func WithLogger(logger *slog.Logger) func(*Options) {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// Reader provides read access to the entries of an open container.
//
// Reader is not safe for use across multiple goroutines.
type Reader struct {
	Options

	path    string
	src     io.ReaderAt
	closer  io.Closer
	eocd    cd.EOCDRecord
	entries []cd.Entry
	closed  bool
}

// Open opens the container at the given path and parses its central directory.
//
// If the EOCD cannot be found, or if the EOCD or the central directory fails validation, the returned error wraps
// cd.ErrCorruptContainer along with either cd.ErrNoEOCDFound or cd.ErrMalformedContainer. Failures to read from storage
// wrap cd.ErrStorageFailure instead.
func Open(fsys storage.FS, path string, optFns ...func(*Options)) (*Reader, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, &cd.Error{Op: "open", Path: path, Offset: -1, Kind: cd.ErrStorageFailure, Err: err}
	}

	size, err := storage.Size(f)
	if err != nil {
		_ = f.Close()
		return nil, &cd.Error{Op: "open", Path: path, Offset: -1, Kind: cd.ErrStorageFailure, Err: err}
	}

	r, err := newReader(path, f, size, optFns...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.closer = f
	return r, nil
}

// NewReader parses the central directory of the container in src which has the given size.
//
// Closing the returned Reader does not close src.
func NewReader(src io.ReaderAt, size int64, optFns ...func(*Options)) (*Reader, error) {
	return newReader("", src, size, optFns...)
}

func newReader(path string, src io.ReaderAt, size int64, optFns ...func(*Options)) (*Reader, error) {
	r := &Reader{
		Options: Options{
			Codec:        codec.Default,
			MaxEntrySize: DefaultMaxEntrySize,
		},
		path: path,
		src:  src,
	}
	for _, fn := range optFns {
		fn(&r.Options)
	}

	if r.Codec == nil {
		r.Codec = codec.Default
	}
	if r.MaxEntrySize <= 0 {
		r.MaxEntrySize = DefaultMaxEntrySize
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}

	eocd, entries, err := cd.ReadDirectory(src, size)
	switch {
	case errors.Is(err, cd.ErrStorageFailure):
		return nil, &cd.Error{Op: "open", Path: path, Offset: -1, Err: err}
	case err != nil:
		return nil, &cd.Error{Op: "open", Path: path, Offset: -1, Kind: cd.ErrCorruptContainer, Err: err}
	}

	if !r.SkipSort {
		slices.SortStableFunc(entries, func(a, b cd.Entry) int {
			return strings.Compare(a.Name, b.Name)
		})
	}

	r.eocd, r.entries = eocd, entries

	r.Logger.Debug("opened container",
		"path", path,
		"size", size,
		"entries", len(entries),
		"cdOffset", eocd.CDOffset,
		"cdSize", eocd.CDSize,
		"sorted", !r.SkipSort)

	return r, nil
}

// EntryCount returns the number of entries, including duplicates and directory markers.
func (r *Reader) EntryCount() int {
	return len(r.entries)
}

// Entries returns a copy of all entries in the current order.
func (r *Reader) Entries() []cd.Entry {
	return slices.Clone(r.entries)
}

// Comment returns the comment of the EOCD record.
func (r *Reader) Comment() string {
	return r.eocd.Comment
}

// Stat returns the entry at the given index of the current order.
func (r *Reader) Stat(i int) (cd.Entry, error) {
	if err := r.checkIndex(i); err != nil {
		return cd.Entry{}, err
	}

	return r.entries[i], nil
}

// IsDirectory returns true if the entry at the given index is a directory marker.
//
// See cd.Entry.IsDir.
func (r *Reader) IsDirectory(i int) (bool, error) {
	if err := r.checkIndex(i); err != nil {
		return false, err
	}

	return r.entries[i].IsDir(), nil
}

// Index returns the index of the first entry with the given name in the current order, or -1 if there is none.
func (r *Reader) Index(name string) int {
	return slices.IndexFunc(r.entries, func(e cd.Entry) bool {
		return e.Name == name
	})
}

// Extract returns the uncompressed content of the first entry with the given name in the current order.
//
// Returns cd.ErrEntryNotFound if no entry has the given name. See ExtractAt for the other errors.
func (r *Reader) Extract(name string) ([]byte, error) {
	if r.closed {
		return nil, &cd.Error{Op: "extract", Path: r.path, Name: name, Offset: -1, Err: fs.ErrClosed}
	}

	i := r.Index(name)
	if i == -1 {
		return nil, &cd.Error{Op: "extract", Path: r.path, Name: name, Offset: -1, Kind: cd.ErrEntryNotFound}
	}

	return r.ExtractAt(i)
}

// ExtractAt returns the uncompressed content of the entry at the given index of the current order.
//
// The local file header must have the same name as the central directory record, otherwise
// cd.ErrMalformedContainer is returned. The uncompressed content must have the size and CRC-32 of the central
// directory record, otherwise cd.ErrIntegrityMismatch is returned. A decompression failure returns
// cd.ErrCodecFailure. The returned slice is owned by the caller.
func (r *Reader) ExtractAt(i int) ([]byte, error) {
	if err := r.checkIndex(i); err != nil {
		return nil, err
	}

	e := r.entries[i]
	if max(e.CompressedSize64, e.UncompressedSize64) > uint64(r.MaxEntrySize) {
		return nil, r.error(&e, e.Offset, cd.ErrTooLarge, fmt.Errorf("entry is %d bytes, limit is %d", max(e.CompressedSize64, e.UncompressedSize64), r.MaxEntrySize))
	}

	dataOffset, err := r.readLocalHeader(&e)
	if err != nil {
		return nil, err
	}

	if end := dataOffset + int64(e.CompressedSize64); end > int64(r.eocd.CDOffset) {
		return nil, r.error(&e, dataOffset, cd.ErrMalformedContainer, fmt.Errorf("payload ends at offset 0x%x past central directory at 0x%x", end, r.eocd.CDOffset))
	}

	data := make([]byte, e.CompressedSize64)
	if n, err := r.src.ReadAt(data, dataOffset); err != nil && (!errors.Is(err, io.EOF) || n < len(data)) {
		return nil, r.error(&e, dataOffset, cd.ErrStorageFailure, err)
	}

	if m := e.CompressionMethod(); m != codec.Store {
		if data, err = r.Codec.Decompress(m, data, e.UncompressedSize64); err != nil {
			return nil, r.error(&e, dataOffset, cd.ErrCodecFailure, err)
		}
	}

	if uint64(len(data)) != e.UncompressedSize64 {
		return nil, r.error(&e, dataOffset, cd.ErrIntegrityMismatch, fmt.Errorf("uncompressed %d bytes, expected %d", len(data), e.UncompressedSize64))
	}
	if crc := r.Codec.Checksum(data); crc != e.CRC32 {
		return nil, r.error(&e, dataOffset, cd.ErrIntegrityMismatch, fmt.Errorf("CRC-32 is 0x%08x, expected 0x%08x", crc, e.CRC32))
	}

	return data, nil
}

// readLocalHeader reads and validates the local file header of the entry, returning the offset of its payload.
func (r *Reader) readLocalHeader(e *cd.Entry) (int64, error) {
	// the local header's variable-size data can differ from the central directory's so it is read in two steps.
	fixed := make([]byte, 30)
	if n, err := r.src.ReadAt(fixed, e.Offset); err != nil && (!errors.Is(err, io.EOF) || n < len(fixed)) {
		return 0, r.error(e, e.Offset, cd.ErrStorageFailure, fmt.Errorf("read local file header error: %w", err))
	}

	nm := int(binary.LittleEndian.Uint16(fixed[26:28])) + int(binary.LittleEndian.Uint16(fixed[28:30]))
	b := make([]byte, len(fixed)+nm)
	copy(b, fixed)
	if n, err := r.src.ReadAt(b[len(fixed):], e.Offset+int64(len(fixed))); err != nil && (!errors.Is(err, io.EOF) || n < nm) {
		return 0, r.error(e, e.Offset, cd.ErrStorageFailure, fmt.Errorf("read local file header error: %w", err))
	}

	lfh, n, err := cd.UnmarshalLocalHeader(b)
	if err != nil {
		return 0, r.error(e, e.Offset, cd.ErrMalformedContainer, err)
	}
	if lfh.Name != e.Name {
		return 0, r.error(e, e.Offset, cd.ErrMalformedContainer, fmt.Errorf("local file header has name %q", lfh.Name))
	}

	return e.Offset + int64(n), nil
}

// Close releases the entries and closes the underlying file if the Reader was created with Open.
//
// Close is idempotent; subsequent calls return nil.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}

	r.closed, r.entries = true, nil
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return &cd.Error{Op: "close", Path: r.path, Offset: -1, Kind: cd.ErrStorageFailure, Err: err}
		}
	}

	return nil
}

func (r *Reader) checkIndex(i int) error {
	switch {
	case r.closed:
		return &cd.Error{Op: "stat", Path: r.path, Offset: -1, Err: fs.ErrClosed}
	case i < 0 || i >= len(r.entries):
		return &cd.Error{Op: "stat", Path: r.path, Offset: -1, Err: fmt.Errorf("index %d out of range [0, %d)", i, len(r.entries))}
	}

	return nil
}

func (r *Reader) error(e *cd.Entry, offset int64, kind, err error) error {
	return &cd.Error{Op: "extract", Path: r.path, Name: e.Name, Offset: offset, Kind: kind, Err: err}
}
