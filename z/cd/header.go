package cd

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	lfhSig  = 0x04034b50
	cdfhSig = 0x02014b50
	eocdSig = 0x06054b50

	localHeaderSize     = 30
	directoryRecordSize = 46
	eocdSize            = 22

	// commentExtraID is the Info-ZIP Unicode Comment Extra Field.
	//
	// The entry comment is repeated in the local header using this field so that a directory rebuilt from local
	// headers alone still has every comment.
	commentExtraID = 0x6375
)

var (
	lfhSigBytes  = putUint32(lfhSig)
	cdfhSigBytes = putUint32(cdfhSig)
	eocdSigBytes = putUint32(eocdSig)
)

func putUint32(v uint32) (b []byte) {
	b = make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// fixedSizeLocalFileHeader needs to be fixed size to work with binary.Read.
//
// https://en.wikipedia.org/wiki/ZIP_(file_format)#Local_file_header
type fixedSizeLocalFileHeader struct {
	Signature        uint32
	ReaderVersion    uint16
	Flags            uint16
	Method           uint16
	ModifiedTime     uint16
	ModifiedDate     uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	FileNameLength   uint16
	ExtraFieldLength uint16
}

// fixedSizeCDFileHeader needs to be fixed size to work with binary.Read.
//
// https://en.wikipedia.org/wiki/ZIP_(file_format)#Central_directory_file_header_(CDFH)
type fixedSizeCDFileHeader struct {
	Signature         uint32
	CreatorVersion    uint16
	ReaderVersion     uint16
	Flags             uint16
	Method            uint16
	ModifiedTime      uint16
	ModifiedDate      uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FileNameLength    uint16
	ExtraFieldLength  uint16
	FileCommentLength uint16
	DiskNumber        uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	Offset            uint32
}

// checkLimits returns ErrTooLarge if the entry cannot be represented without ZIP64.
func checkLimits(e *Entry) error {
	switch {
	case len(e.Name) > uint16max:
		return fmt.Errorf("name is %d bytes long: %w", len(e.Name), ErrTooLarge)
	case len(e.Comment) > uint16max-5-4:
		return fmt.Errorf("comment is %d bytes long: %w", len(e.Comment), ErrTooLarge)
	case len(localExtra(e)) > uint16max:
		return fmt.Errorf("extra field is %d bytes long: %w", len(localExtra(e)), ErrTooLarge)
	case e.CompressedSize64 > uint32max, e.UncompressedSize64 > uint32max:
		return fmt.Errorf("entry size is %d bytes: %w", max(e.CompressedSize64, e.UncompressedSize64), ErrTooLarge)
	case e.Offset < 0 || e.Offset > uint32max:
		return fmt.Errorf("local header offset is %d: %w", e.Offset, ErrTooLarge)
	}

	return nil
}

// localExtra returns the extra field written to the local header: Entry.Extra followed by the comment field.
func localExtra(e *Entry) []byte {
	if e.Comment == "" {
		return e.Extra
	}

	b := make([]byte, 0, len(e.Extra)+4+5+len(e.Comment))
	b = append(b, e.Extra...)
	b = binary.LittleEndian.AppendUint16(b, commentExtraID)
	b = binary.LittleEndian.AppendUint16(b, uint16(5+len(e.Comment)))
	b = append(b, 1)
	b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE([]byte(e.Comment)))
	return append(b, e.Comment...)
}

// splitLocalExtra is the inverse of localExtra.
//
// Fields other than the comment field are returned in their original order. A comment field whose CRC-32 does not
// match its content is kept as an opaque field.
func splitLocalExtra(extra []byte) (rest []byte, comment string) {
	for b := extra; len(b) >= 4; {
		id, size := binary.LittleEndian.Uint16(b[:2]), int(binary.LittleEndian.Uint16(b[2:4]))
		if 4+size > len(b) {
			rest = append(rest, b...)
			break
		}

		field := b[:4+size]
		b = b[4+size:]

		if id == commentExtraID && size >= 5 && field[4] == 1 {
			if c := field[9:]; crc32.ChecksumIEEE(c) == binary.LittleEndian.Uint32(field[5:9]) {
				comment = string(c)
				continue
			}
		}

		rest = append(rest, field...)
	}

	return nilIfEmpty(rest), comment
}

// MarshalLocalHeader encodes the local file header of the entry.
//
// The payload is not included; it must be written immediately after the returned bytes.
func MarshalLocalHeader(e Entry) ([]byte, error) {
	if err := checkLimits(&e); err != nil {
		return nil, err
	}

	extra := localExtra(&e)
	buf := bytes.NewBuffer(make([]byte, 0, localHeaderSize+len(e.Name)+len(extra)))
	if err := binary.Write(buf, binary.LittleEndian, &fixedSizeLocalFileHeader{
		Signature:        lfhSig,
		ReaderVersion:    e.ReaderVersion,
		Flags:            e.Flags,
		Method:           e.Method,
		ModifiedTime:     e.ModifiedTime,
		ModifiedDate:     e.ModifiedDate,
		CRC32:            e.CRC32,
		CompressedSize:   uint32(e.CompressedSize64),
		UncompressedSize: uint32(e.UncompressedSize64),
		FileNameLength:   uint16(len(e.Name)),
		ExtraFieldLength: uint16(len(extra)),
	}); err != nil {
		return nil, fmt.Errorf("marshal local file header error: %w", err)
	}
	buf.WriteString(e.Name)
	buf.Write(extra)
	return buf.Bytes(), nil
}

// UnmarshalLocalHeader decodes the local file header at the start of b.
//
// Returns the entry (with a zero Offset) and the length of the header, i.e. the offset of the payload relative to
// the start of b. The comment is recovered from the local extra field; external attributes and creator version
// cannot be stored in a local header so they are derived the same way NewEntry derives them. If the data descriptor
// flag is set, the sizes and CRC-32 of the returned entry are most likely zero; use HasDataDescriptor to check.
func UnmarshalLocalHeader(b []byte) (e Entry, n int, err error) {
	if len(b) < localHeaderSize {
		return e, 0, fmt.Errorf("insufficient data: expected at least %d bytes, got %d: %w", localHeaderSize, len(b), ErrTruncated)
	}

	data := &fixedSizeLocalFileHeader{}
	if err = binary.Read(bytes.NewReader(b[:localHeaderSize]), binary.LittleEndian, data); err != nil {
		return e, 0, fmt.Errorf("unmarshal error: %w", err)
	}
	if data.Signature != lfhSig {
		return e, 0, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x: %w", data.Signature, lfhSig, ErrMalformedContainer)
	}

	nm := int(data.FileNameLength) + int(data.ExtraFieldLength)
	if len(b) < localHeaderSize+nm {
		return e, 0, fmt.Errorf("read variable-size data error: insufficient read: expected at least %d bytes, got %d: %w", nm, len(b)-localHeaderSize, ErrTruncated)
	}

	nameEnd := localHeaderSize + int(data.FileNameLength)
	rest, comment := splitLocalExtra(b[nameEnd : localHeaderSize+nm])

	e = Entry{
		FileHeader: zip.FileHeader{
			Name:               string(b[localHeaderSize:nameEnd]),
			Comment:            comment,
			NonUTF8:            data.Flags&flagUTF8 == 0,
			CreatorVersion:     data.ReaderVersion,
			ReaderVersion:      data.ReaderVersion,
			Flags:              data.Flags,
			Method:             data.Method,
			Modified:           time.Time{},
			ModifiedTime:       data.ModifiedTime,
			ModifiedDate:       data.ModifiedDate,
			CRC32:              data.CRC32,
			CompressedSize:     data.CompressedSize,
			UncompressedSize:   data.UncompressedSize,
			CompressedSize64:   uint64(data.CompressedSize),
			UncompressedSize64: uint64(data.UncompressedSize),
			Extra:              rest,
		},
	}
	e.Modified = msDosTimeToTime(e.ModifiedDate, e.ModifiedTime)
	if e.CreatorVersion < versionModern {
		e.CreatorVersion = versionDefault
	}
	if len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/' {
		e.ExternalAttrs = attrDirectory
	}

	return e, localHeaderSize + nm, nil
}

// appendDirectoryRecord encodes the central directory file header of the entry to buf.
func appendDirectoryRecord(buf *bytes.Buffer, e *Entry) error {
	if err := checkLimits(e); err != nil {
		return err
	}

	if err := binary.Write(buf, binary.LittleEndian, &fixedSizeCDFileHeader{
		Signature:         cdfhSig,
		CreatorVersion:    e.CreatorVersion,
		ReaderVersion:     e.ReaderVersion,
		Flags:             e.Flags,
		Method:            e.Method,
		ModifiedTime:      e.ModifiedTime,
		ModifiedDate:      e.ModifiedDate,
		CRC32:             e.CRC32,
		CompressedSize:    uint32(e.CompressedSize64),
		UncompressedSize:  uint32(e.UncompressedSize64),
		FileNameLength:    uint16(len(e.Name)),
		ExtraFieldLength:  uint16(len(e.Extra)),
		FileCommentLength: uint16(len(e.Comment)),
		ExternalAttrs:     e.ExternalAttrs,
		Offset:            uint32(e.Offset),
	}); err != nil {
		return fmt.Errorf("marshal CD file header error: %w", err)
	}
	buf.WriteString(e.Name)
	buf.Write(e.Extra)
	buf.WriteString(e.Comment)
	return nil
}

// unmarshalDirectoryRecord decodes the central directory file header at the start of b.
//
// Returns the entry and the number of bytes consumed.
func unmarshalDirectoryRecord(b []byte) (e Entry, n int, err error) {
	if len(b) < directoryRecordSize {
		return e, 0, fmt.Errorf("insufficient data: expected at least %d bytes, got %d", directoryRecordSize, len(b))
	}

	data := &fixedSizeCDFileHeader{}
	if err = binary.Read(bytes.NewReader(b[:directoryRecordSize]), binary.LittleEndian, data); err != nil {
		return e, 0, fmt.Errorf("unmarshal error: %w", err)
	}
	if data.Signature != cdfhSig {
		return e, 0, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x", data.Signature, cdfhSig)
	}

	n, m, k := int(data.FileNameLength), int(data.ExtraFieldLength), int(data.FileCommentLength)
	if len(b) < directoryRecordSize+n+m+k {
		return e, 0, fmt.Errorf("read variable-size data error: insufficient read: expected at least %d bytes, got %d", n+m+k, len(b)-directoryRecordSize)
	}

	nmk := b[directoryRecordSize : directoryRecordSize+n+m+k]
	e = Entry{
		FileHeader: zip.FileHeader{
			Name:               string(nmk[:n]),
			Comment:            string(nmk[n+m:]),
			NonUTF8:            data.Flags&flagUTF8 == 0,
			CreatorVersion:     data.CreatorVersion,
			ReaderVersion:      data.ReaderVersion,
			Flags:              data.Flags,
			Method:             data.Method,
			Modified:           time.Time{},
			ModifiedTime:       data.ModifiedTime,
			ModifiedDate:       data.ModifiedDate,
			CRC32:              data.CRC32,
			CompressedSize:     data.CompressedSize,
			UncompressedSize:   data.UncompressedSize,
			CompressedSize64:   uint64(data.CompressedSize),
			UncompressedSize64: uint64(data.UncompressedSize),
			Extra:              nilIfEmpty(bytes.Clone(nmk[n : n+m])),
			ExternalAttrs:      data.ExternalAttrs,
		},
		Offset: int64(data.Offset),
	}
	e.Modified = msDosTimeToTime(e.ModifiedDate, e.ModifiedTime)

	return e, directoryRecordSize + n + m + k, nil
}

// HasDataDescriptor returns true if the sizes and CRC-32 of the entry follow its payload instead of being in its local
// file header.
func (e *Entry) HasDataDescriptor() bool {
	return e.Flags&flagDataDescriptor != 0
}
