package cd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ParseDirectory decodes the central directory block data located by r in a container of the given size.
//
// ParseDirectory does no I/O. Returns ErrMalformedContainer if the EOCD does not resolve to in-bounds regions, if
// data is not exactly the directory block, if a record is truncated or the record count mismatches, or if a record
// points at a local header that cannot fit before the directory.
func ParseDirectory(data []byte, r EOCDRecord, size int64) ([]Entry, error) {
	switch {
	case r.DiskNumber != 0 || r.CDDiskOffset != 0 || r.CDCountOnDisk != r.CDCount:
		return nil, fmt.Errorf("multi-disk containers are not supported: %w", ErrMalformedContainer)
	case int64(r.CDOffset)+int64(r.CDSize) != r.Offset:
		return nil, fmt.Errorf("central directory (offset 0x%x, size %d) does not end at EOCD (offset 0x%x): %w", r.CDOffset, r.CDSize, r.Offset, ErrMalformedContainer)
	case r.Offset+r.Len() != size:
		return nil, fmt.Errorf("EOCD (offset 0x%x, length %d) does not end at container size %d: %w", r.Offset, r.Len(), size, ErrMalformedContainer)
	case int64(len(data)) != int64(r.CDSize):
		return nil, fmt.Errorf("central directory is %d bytes, expected %d: %w", len(data), r.CDSize, ErrMalformedContainer)
	}

	entries := make([]Entry, 0, r.CDCount)
	for offset := 0; offset < len(data); {
		if len(entries) == int(r.CDCount) {
			return nil, fmt.Errorf("central directory has more than %d records: %w", r.CDCount, ErrMalformedContainer)
		}

		e, n, err := unmarshalDirectoryRecord(data[offset:])
		if err != nil {
			return nil, &Error{Op: "read CD file header", Offset: int64(r.CDOffset) + int64(offset), Kind: ErrMalformedContainer, Err: err}
		}

		// the local header is at least 30 bytes plus the name, followed by the payload; all must precede the directory.
		if e.Offset+localHeaderSize+int64(len(e.Name))+int64(e.CompressedSize64) > int64(r.CDOffset) {
			return nil, &Error{
				Op:     "read CD file header",
				Name:   e.Name,
				Offset: int64(r.CDOffset) + int64(offset),
				Kind:   ErrMalformedContainer,
				Err:    fmt.Errorf("local file at offset 0x%x with %d compressed bytes overlaps central directory at 0x%x", e.Offset, e.CompressedSize64, r.CDOffset),
			}
		}

		entries = append(entries, e)
		offset += n
	}

	if len(entries) != int(r.CDCount) {
		return nil, fmt.Errorf("central directory has %d records, expected %d: %w", len(entries), r.CDCount, ErrMalformedContainer)
	}

	return entries, nil
}

// SerializeDirectory encodes the central directory block for the given entries in the given order.
func SerializeDirectory(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	for i := range entries {
		if err := appendDirectoryRecord(buf, &entries[i]); err != nil {
			return nil, &Error{Op: "write CD file header", Name: entries[i].Name, Offset: entries[i].Offset, Kind: ErrTooLarge, Err: err}
		}
	}

	return buf.Bytes(), nil
}

// SerializeTrailer encodes the central directory followed by the EOCD record for a directory starting at offset.
//
// The result is everything that follows the last payload byte in a valid container.
func SerializeTrailer(entries []Entry, offset int64) ([]byte, error) {
	data, err := SerializeDirectory(entries)
	if err != nil {
		return nil, err
	}

	r, err := NewEOCDRecord(len(entries), offset, int64(len(data)))
	if err != nil {
		return nil, &Error{Op: "write EOCD", Offset: offset, Kind: ErrTooLarge, Err: err}
	}

	eocd, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return append(data, eocd...), nil
}

// ReadDirectory locates the EOCD of the container src of the given size, reads the directory block, and parses it.
func ReadDirectory(src io.ReaderAt, size int64) (EOCDRecord, []Entry, error) {
	r, err := FindEOCD(src, size)
	if err != nil {
		return r, nil, err
	}

	// bound the allocation by the container size before trusting CDSize.
	if int64(r.CDOffset)+int64(r.CDSize) > size {
		return r, nil, fmt.Errorf("central directory (offset 0x%x, size %d) is out of bounds: %w", r.CDOffset, r.CDSize, ErrMalformedContainer)
	}

	data := make([]byte, r.CDSize)
	switch n, err := src.ReadAt(data, int64(r.CDOffset)); {
	case err != nil && !errors.Is(err, io.EOF):
		return r, nil, fmt.Errorf("read central directory error: %w", errors.Join(ErrStorageFailure, err))
	case n < len(data):
		return r, nil, fmt.Errorf("read central directory error: insufficient read: expected %d bytes, got %d: %w", len(data), n, ErrStorageFailure)
	}

	entries, err := ParseDirectory(data, r, size)
	return r, entries, err
}
