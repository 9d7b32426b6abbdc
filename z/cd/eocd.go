package cd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// EOCDRecord models the end of central directory record of a ZIP file.
//
// This is the terminal summary record of a container: the last bytes of a valid container, locating the central
// directory and counting its records.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
type EOCDRecord struct {
	// DiskNumber is number of this disk (or 0xffff for ZIP64).
	DiskNumber uint16
	// CDDiskOffset is disk where central directory starts (or 0xffff for ZIP64).
	CDDiskOffset uint16
	// CDCountOnDisk is the number of central directory records on this disk (or 0xffff for ZIP64).
	CDCountOnDisk uint16
	// CDCount is the total number of central directory records (or 0xffff for ZIP64).
	CDCount uint16
	// CDSize is size of central directory (bytes) (or 0xffffffff for ZIP64).
	CDSize uint32
	// CDOffset is offset of start of central directory, relative to start of archive (or 0xffffffff for ZIP64).
	CDOffset uint32
	// Comment is the comment section of the EOCD.
	Comment string

	// Offset is where the record was found in the container. It is not part of the serialised form.
	Offset int64
}

// fixedSizeEOCDRecord needs to be fixed size to work with binary.Read.
type fixedSizeEOCDRecord struct {
	Signature     uint32
	DiskNumber    uint16
	CDDiskOffset  uint16
	CDCountOnDisk uint16
	CDCount       uint16
	CDSize        uint32
	CDOffset      uint32
	CommentLength uint16
}

// NewEOCDRecord creates the record for a directory of count records and size bytes starting at offset.
func NewEOCDRecord(count int, offset, size int64) (r EOCDRecord, err error) {
	switch {
	case count > uint16max:
		return r, fmt.Errorf("%d entries: %w", count, ErrTooLarge)
	case offset > uint32max, size > uint32max, offset+size > uint32max:
		return r, fmt.Errorf("central directory ends at offset %d: %w", offset+size, ErrTooLarge)
	}

	return EOCDRecord{
		CDCountOnDisk: uint16(count),
		CDCount:       uint16(count),
		CDSize:        uint32(size),
		CDOffset:      uint32(offset),
		Offset:        offset + size,
	}, nil
}

// MarshalBinary encodes the record and its comment.
func (r EOCDRecord) MarshalBinary() ([]byte, error) {
	if len(r.Comment) > uint16max {
		return nil, fmt.Errorf("EOCD comment is %d bytes long: %w", len(r.Comment), ErrTooLarge)
	}

	buf := bytes.NewBuffer(make([]byte, 0, eocdSize+len(r.Comment)))
	if err := binary.Write(buf, binary.LittleEndian, &fixedSizeEOCDRecord{
		Signature:     eocdSig,
		DiskNumber:    r.DiskNumber,
		CDDiskOffset:  r.CDDiskOffset,
		CDCountOnDisk: r.CDCountOnDisk,
		CDCount:       r.CDCount,
		CDSize:        r.CDSize,
		CDOffset:      r.CDOffset,
		CommentLength: uint16(len(r.Comment)),
	}); err != nil {
		return nil, fmt.Errorf("marshal EOCD error: %w", err)
	}
	buf.WriteString(r.Comment)
	return buf.Bytes(), nil
}

// Len returns the length of the serialised record including its comment.
func (r EOCDRecord) Len() int64 {
	return int64(eocdSize + len(r.Comment))
}

// ParseEOCD decodes the record at the start of b, which must contain the record and its entire comment.
func ParseEOCD(b []byte) (r EOCDRecord, err error) {
	if len(b) < eocdSize {
		return r, fmt.Errorf("insufficient data: expected at least %d bytes, got %d: %w", eocdSize, len(b), ErrMalformedContainer)
	}

	data := &fixedSizeEOCDRecord{}
	if err = binary.Read(bytes.NewReader(b[:eocdSize]), binary.LittleEndian, data); err != nil {
		return r, fmt.Errorf("unmarshal error: %w", err)
	}
	if data.Signature != eocdSig {
		return r, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x: %w", data.Signature, eocdSig, ErrMalformedContainer)
	}
	if n := eocdSize + int(data.CommentLength); len(b) < n {
		return r, fmt.Errorf("read variable-size data error: insufficient read: expected at least %d bytes, got %d: %w", data.CommentLength, len(b)-eocdSize, ErrMalformedContainer)
	}

	return EOCDRecord{
		DiskNumber:    data.DiskNumber,
		CDDiskOffset:  data.CDDiskOffset,
		CDCountOnDisk: data.CDCountOnDisk,
		CDCount:       data.CDCount,
		CDSize:        data.CDSize,
		CDOffset:      data.CDOffset,
		Comment:       string(b[eocdSize : eocdSize+int(data.CommentLength)]),
	}, nil
}

// FindEOCD searches the given src backwards for the EOCD record.
//
// Only the last 22+65535 bytes are searched since that is the longest an EOCD with comment can be. A record is only
// accepted if its comment ends exactly at the end of src; a signature that happens to appear inside a comment or in
// payload data is skipped.
func FindEOCD(src io.ReaderAt, size int64) (r EOCDRecord, err error) {
	if size < eocdSize {
		return r, fmt.Errorf("find EOCD: container is only %d bytes: %w", size, ErrNoEOCDFound)
	}

	n := min(size, eocdSize+uint16max)
	b := make([]byte, n)
	switch readN, err := src.ReadAt(b, size-n); {
	case err != nil && !errors.Is(err, io.EOF):
		return r, fmt.Errorf("find EOCD: read error: %w", errors.Join(ErrStorageFailure, err))
	case int64(readN) < n:
		return r, fmt.Errorf("find EOCD: insufficient read: expected %d bytes, got %d: %w", n, readN, ErrStorageFailure)
	}

	found := false
	for i := bytes.LastIndex(b, eocdSigBytes); i != -1; i = bytes.LastIndex(b[:i], eocdSigBytes) {
		if len(b)-i < eocdSize {
			continue
		}

		found = true
		if commentLen := int(binary.LittleEndian.Uint16(b[i+20 : i+22])); i+eocdSize+commentLen != len(b) {
			continue
		}

		if r, err = ParseEOCD(b[i:]); err != nil {
			return r, fmt.Errorf("find EOCD: %w", err)
		}
		r.Offset = size - n + int64(i)
		return r, nil
	}

	if found {
		return r, fmt.Errorf("find EOCD: EOCD is not at end of container: %w", ErrMalformedContainer)
	}

	return r, ErrNoEOCDFound
}
