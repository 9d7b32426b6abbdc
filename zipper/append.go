package zipper

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/storage"
	"github.com/nguyengg/zappend/z/cd"
)

// AppendInPlace appends one entry to the container, creating the container if it does not exist.
//
// A nil payload appends a zero-length directory marker that is always stored; by convention its name should end
// with "/". A name that already exists in the container adds a second central directory record with the same name;
// nothing is replaced.
//
// The container is mutated in place: the stale central directory is truncated, the new local file header and
// payload are written in its place, followed by the new central directory and EOCD. If this is interrupted after
// the truncation, the container no longer has a valid EOCD until Rebuild is run. Errors detected before the
// truncation, such as ErrTooLarge, ErrMalformedContainer, or ErrCodecFailure, leave the container untouched.
//
// Returns the Entry exactly as written to the central directory.
func (z *Zipper) AppendInPlace(name string, payload []byte, comment string) (e cd.Entry, err error) {
	e, data, err := z.newEntry(name, payload, comment)
	if err != nil {
		return e, err
	}

	f, err := z.fsys.OpenFile(z.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = z.error("append", name, -1, cd.ErrStorageFailure, closeErr)
		}
	}()

	size, err := storage.Size(f)
	if err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
	}

	if size == 0 {
		// a new container is an EOCD record with no entries.
		if size, err = z.initEmpty(f); err != nil {
			return e, z.error("append", name, 0, cd.ErrStorageFailure, err)
		}
	}

	r, entries, err := cd.ReadDirectory(f, size)
	if err != nil {
		return e, z.error("append", name, -1, nil, err)
	}

	if e, err = z.write(f, r, entries, e, data); err != nil {
		return e, err
	}

	if err = f.Sync(); err != nil {
		return e, z.error("append", name, e.Offset, cd.ErrStorageFailure, err)
	}

	z.Logger.Debug("appended entry in place",
		"path", z.path,
		"name", e.Name,
		"offset", e.Offset,
		"method", e.CompressionMethod(),
		"size", e.UncompressedSize64,
		"compressedSize", e.CompressedSize64)

	return e, nil
}

// AppendStaged appends one entry to a copy of the container then renames the copy over the original.
//
// The copy is a temporary file in the same directory as the container. The payload region of the original (up to its
// central directory) is copied over, then the new entry, central directory, and EOCD are written and synced before
// the rename. If anything fails, the temporary file is removed and the original container is not modified. The
// container is created if it does not exist.
//
// AppendStaged rewrites the whole container so it costs as much I/O as the container is large.
func (z *Zipper) AppendStaged(name string, payload []byte, comment string) (e cd.Entry, err error) {
	e, data, err := z.newEntry(name, payload, comment)
	if err != nil {
		return e, err
	}

	r, _ := cd.NewEOCDRecord(0, 0, 0)
	var entries []cd.Entry

	src, err := z.fsys.OpenFile(z.path, os.O_RDONLY, 0)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		src = nil
	case err != nil:
		return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
	default:
		defer func() {
			if src != nil {
				_ = src.Close()
			}
		}()

		size, err := storage.Size(src)
		if err != nil {
			return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
		}

		if size != 0 {
			if r, entries, err = cd.ReadDirectory(src, size); err != nil {
				return e, z.error("append", name, -1, nil, err)
			}
		}
	}

	dst, tmp, err := storage.CreateTemp(z.fsys, z.path)
	if err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, fmt.Errorf("create staging file error: %w", err))
	}
	defer func() {
		if err != nil {
			_ = dst.Close()
			if removeErr := z.fsys.Remove(tmp); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
				z.Logger.Warn("remove staging file error", "path", tmp, "error", removeErr)
			}
		}
	}()

	if n := int64(r.CDOffset); n > 0 {
		written, err := io.Copy(io.NewOffsetWriter(dst, 0), io.NewSectionReader(src, 0, n))
		if err == nil && written != n {
			err = fmt.Errorf("insufficient copy: expected %d bytes, copied %d", n, written)
		}
		if err != nil {
			return e, z.error("append", name, 0, cd.ErrStorageFailure, fmt.Errorf("copy to staging file error: %w", err))
		}
	}

	// the original cannot be replaced while it is still open on Windows.
	if src != nil {
		err, src = src.Close(), nil
		if err != nil {
			return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
		}
	}

	if e, err = z.write(dst, r, entries, e, data); err != nil {
		return e, err
	}

	if err = dst.Sync(); err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
	}
	if err = dst.Close(); err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, err)
	}
	if err = z.fsys.Rename(tmp, z.path); err != nil {
		return e, z.error("append", name, -1, cd.ErrStorageFailure, fmt.Errorf("replace container error: %w", err))
	}

	z.Logger.Debug("appended entry by staging",
		"path", z.path,
		"staging", tmp,
		"name", e.Name,
		"offset", e.Offset,
		"method", e.CompressionMethod(),
		"size", e.UncompressedSize64,
		"compressedSize", e.CompressedSize64)

	return e, nil
}

// Remove deletes the container.
//
// It is not an error if the container does not exist.
func (z *Zipper) Remove() error {
	if err := z.fsys.Remove(z.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return z.error("remove", "", -1, cd.ErrStorageFailure, err)
	}

	z.Logger.Debug("removed container", "path", z.path)
	return nil
}

// newEntry compresses the payload and creates its Entry with Offset yet to be determined.
//
// The returned data is what follows the local file header.
func (z *Zipper) newEntry(name string, payload []byte, comment string) (cd.Entry, []byte, error) {
	if name == "" {
		return cd.Entry{}, nil, z.error("append", name, -1, nil, fmt.Errorf("entry name must not be empty"))
	}

	fh := zip.FileHeader{
		Name:     name,
		Comment:  comment,
		Modified: z.Clock(),
	}

	if payload == nil {
		return cd.NewEntry(fh, 0), nil, nil
	}

	if uint64(len(payload)) > math.MaxUint32 {
		return cd.Entry{}, nil, z.error("append", name, -1, cd.ErrTooLarge, fmt.Errorf("payload is %d bytes", len(payload)))
	}

	m := z.Method
	if z.Level <= 0 || len(payload) <= 3 {
		m = codec.Store
	}

	data, err := z.Codec.Compress(m, payload, z.Level)
	if err != nil {
		return cd.Entry{}, nil, z.error("append", name, -1, cd.ErrCodecFailure, err)
	}

	fh.Method = uint16(m)
	fh.Flags = m.LevelFlags(z.Level)
	fh.CRC32 = z.Codec.Checksum(payload)
	fh.CompressedSize64 = uint64(len(data))
	fh.UncompressedSize64 = uint64(len(payload))

	return cd.NewEntry(fh, 0), data, nil
}

// write replaces the central directory described by r with the local file header and payload of the new entry, then
// writes the central directory of all entries and the EOCD.
//
// Everything that can fail validation is encoded before the first mutation.
func (z *Zipper) write(f storage.File, r cd.EOCDRecord, entries []cd.Entry, e cd.Entry, data []byte) (cd.Entry, error) {
	e.Offset = int64(r.CDOffset)

	header, err := cd.MarshalLocalHeader(e)
	if err != nil {
		return e, z.error("append", e.Name, e.Offset, nil, err)
	}

	end := e.Offset + int64(len(header)) + int64(len(data))
	trailer, err := newTrailer(append(entries, e), end, r.Comment)
	if err != nil {
		return e, z.error("append", e.Name, end, nil, err)
	}

	if err = f.Truncate(e.Offset); err != nil {
		return e, z.error("append", e.Name, e.Offset, cd.ErrStorageFailure, fmt.Errorf("truncate error: %w", err))
	}
	if _, err = f.WriteAt(append(header, data...), e.Offset); err != nil {
		return e, z.error("append", e.Name, e.Offset, cd.ErrStorageFailure, fmt.Errorf("write local file error: %w", err))
	}
	if _, err = f.WriteAt(trailer, end); err != nil {
		return e, z.error("append", e.Name, end, cd.ErrStorageFailure, fmt.Errorf("write central directory error: %w", err))
	}

	return e, nil
}

// initEmpty writes an EOCD record with no entries to the start of f.
func (z *Zipper) initEmpty(f storage.File) (int64, error) {
	b, err := newTrailer(nil, 0, "")
	if err != nil {
		return 0, err
	}

	n, err := f.WriteAt(b, 0)
	return int64(n), err
}

// newTrailer encodes the central directory of the given entries starting at offset, followed by the EOCD record.
func newTrailer(entries []cd.Entry, offset int64, comment string) ([]byte, error) {
	data, err := cd.SerializeDirectory(entries)
	if err != nil {
		return nil, err
	}

	r, err := cd.NewEOCDRecord(len(entries), offset, int64(len(data)))
	if err != nil {
		return nil, err
	}
	r.Comment = comment

	eocd, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return append(data, eocd...), nil
}

func (z *Zipper) error(op, name string, offset int64, kind, err error) error {
	return &cd.Error{Op: op, Path: z.path, Name: name, Offset: offset, Kind: kind, Err: err}
}
