package zipper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/storage"
	"github.com/nguyengg/zappend/z/cd"
	"golang.org/x/time/rate"
)

// RebuildResult describes the container after Rebuild.
type RebuildResult struct {
	// Entries are the recovered entries in the order of their local file headers.
	Entries []cd.Entry

	// Size is the new size of the container.
	Size int64

	// Discarded is the number of bytes that followed the last recovered payload and were replaced by the new central
	// directory. This includes the stale central directory and EOCD if there were any.
	Discarded int64

	// Cause is the reason the scan stopped before reaching the central directory or the end of the container, such as
	// a truncated local file header or a payload that failed its checksum. Nil if every local file was recovered.
	Cause error
}

// Rebuild recovers the central directory of the container by scanning its local file headers from offset 0.
//
// Each local file header states the length of its own payload so the scan does not need the central directory. The
// scan stops at the first central directory or EOCD signature, at the end of the container, or at the first local
// file that is truncated or otherwise invalid. Unless SkipVerify is set, every payload is also decompressed and
// checked against its CRC-32 and size; the first one that fails stops the scan as well. The container is then
// truncated after the last good payload and a new central directory and EOCD are written for the recovered entries.
// The comment of the existing EOCD is kept if one can still be found.
//
// If the scan stops for any other reason, e.g. a local file header that defers its sizes to a data descriptor, a
// method that Codec does not support, or a storage failure, the error is returned and the container is left as is.
//
// Because every field of the central directory is derived from the local file header, rebuilding a valid container
// that this package wrote produces byte-for-byte the same central directory.
func (z *Zipper) Rebuild() (res RebuildResult, err error) {
	f, err := z.fsys.OpenFile(z.path, os.O_RDWR, 0)
	if err != nil {
		return res, z.error("rebuild", "", -1, cd.ErrStorageFailure, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = z.error("rebuild", "", -1, cd.ErrStorageFailure, closeErr)
		}
	}()

	size, err := storage.Size(f)
	if err != nil {
		return res, z.error("rebuild", "", -1, cd.ErrStorageFailure, err)
	}

	var comment string
	if r, err := cd.FindEOCD(f, size); err == nil {
		comment = r.Comment
	}

	var (
		end       int64
		sometimes = rate.Sometimes{Interval: 5 * time.Second}
	)

	for lf, err := range cd.Scan(f, size) {
		if err == nil && !z.SkipVerify {
			err = z.verify(f, lf)
		}
		if err != nil {
			res.Cause = err

			// only a torn tail or a payload that fails its checksum is discarded. anything else, such as a data
			// descriptor or an unsupported method, may still be a valid container that Scan cannot walk.
			if !errors.Is(err, cd.ErrTruncated) && !errors.Is(err, cd.ErrIntegrityMismatch) {
				return res, z.error("rebuild", lf.Name, lf.Offset, nil, err)
			}

			z.Logger.Warn("stop scanning at invalid local file", "path", z.path, "offset", end, "error", err)
			break
		}

		res.Entries = append(res.Entries, lf.Entry)
		end = lf.End()

		if z.Progress != nil {
			z.Progress(lf.Name, end, size, false)
		}

		sometimes.Do(func() {
			z.Logger.Info("scanning local files", "path", z.path, "entries", len(res.Entries), "offset", end, "size", size)
		})
	}

	trailer, err := newTrailer(res.Entries, end, comment)
	if err != nil {
		return res, z.error("rebuild", "", end, nil, err)
	}

	if err = f.Truncate(end); err != nil {
		return res, z.error("rebuild", "", end, cd.ErrStorageFailure, fmt.Errorf("truncate error: %w", err))
	}
	if _, err = f.WriteAt(trailer, end); err != nil {
		return res, z.error("rebuild", "", end, cd.ErrStorageFailure, fmt.Errorf("write central directory error: %w", err))
	}
	if err = f.Sync(); err != nil {
		return res, z.error("rebuild", "", end, cd.ErrStorageFailure, err)
	}

	res.Size = end + int64(len(trailer))
	res.Discarded = size - end

	if z.Progress != nil {
		z.Progress("", size, size, true)
	}

	z.Logger.Debug("rebuilt central directory",
		"path", z.path,
		"entries", len(res.Entries),
		"size", res.Size,
		"discarded", res.Discarded)

	return res, nil
}

// verify reads and decompresses the payload of the local file to check its size and CRC-32.
func (z *Zipper) verify(src io.ReaderAt, lf cd.LocalFile) error {
	if n := max(lf.CompressedSize64, lf.UncompressedSize64); n > uint64(z.MaxEntrySize) {
		z.Logger.Debug("skip verifying large entry", "path", z.path, "name", lf.Name, "size", n)
		return nil
	}

	data := make([]byte, lf.CompressedSize64)
	if n, err := src.ReadAt(data, lf.DataOffset); err != nil && (!errors.Is(err, io.EOF) || n < len(data)) {
		return &cd.Error{Op: "verify", Name: lf.Name, Offset: lf.DataOffset, Kind: cd.ErrStorageFailure, Err: err}
	}

	data, err := z.Codec.Decompress(lf.CompressionMethod(), data, lf.UncompressedSize64)
	switch {
	case errors.Is(err, codec.ErrUnsupportedMethod):
		return &cd.Error{Op: "verify", Name: lf.Name, Offset: lf.Offset, Kind: cd.ErrCodecFailure, Err: err}
	case err != nil:
		// a payload that a supported codec cannot decode is as damaged as one that fails its CRC-32.
		return &cd.Error{Op: "verify", Name: lf.Name, Offset: lf.Offset, Kind: cd.ErrIntegrityMismatch, Err: errors.Join(cd.ErrCodecFailure, err)}
	}

	switch {
	case uint64(len(data)) != lf.UncompressedSize64:
		return &cd.Error{Op: "verify", Name: lf.Name, Offset: lf.Offset, Kind: cd.ErrIntegrityMismatch, Err: fmt.Errorf("uncompressed %d bytes, expected %d", len(data), lf.UncompressedSize64)}
	case z.Codec.Checksum(data) != lf.CRC32:
		return &cd.Error{Op: "verify", Name: lf.Name, Offset: lf.Offset, Kind: cd.ErrIntegrityMismatch, Err: fmt.Errorf("CRC-32 is 0x%08x, expected 0x%08x", z.Codec.Checksum(data), lf.CRC32)}
	}

	return nil
}
