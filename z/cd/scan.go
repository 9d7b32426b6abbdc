package cd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Scan scans forwards the given io.ReaderAt for local file headers, starting at offset 0.
//
// Each local file header describes the length of its own payload so the central directory is not needed. The iterator
// yields every LocalFile with its DataOffset and stops without error upon reaching the central directory, the EOCD,
// or exactly the end of src. A local file header or payload that runs past size yields an error wrapping
// ErrTruncated; any other unexpected data yields an error wrapping ErrMalformedContainer. The iterator always stops
// after yielding an error.
//
// Use Scan to recover entries from a container whose central directory is missing or damaged. If you only need to
// list the entries of a valid container, use ReadDirectory instead.
func Scan(src io.ReaderAt, size int64) iter.Seq2[LocalFile, error] {
	return func(yield func(LocalFile, error) bool) {
		var (
			// buf is the fixed-size read buffer for the fixed-size part of the local file header. the variable-size
			// part is read separately once its length is known.
			buf    = make([]byte, localHeaderSize)
			offset int64
		)

		for offset < size {
			readN, err := src.ReadAt(buf[:min(int64(len(buf)), size-offset)], offset)
			if err != nil && !errors.Is(err, io.EOF) {
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrStorageFailure, Err: err})
				return
			}

			switch b := buf[:readN]; {
			case len(b) >= 4 && (bytes.Equal(b[:4], cdfhSigBytes) || bytes.Equal(b[:4], eocdSigBytes)):
				return
			case len(b) >= 4 && !bytes.Equal(b[:4], lfhSigBytes):
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrMalformedContainer, Err: fmt.Errorf("unexpected signature 0x%x", b[:4])})
				return
			case len(b) < localHeaderSize:
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrTruncated, Err: fmt.Errorf("expected at least %d bytes, got %d", localHeaderSize, len(b))})
				return
			}

			nm := int64(binary.LittleEndian.Uint16(buf[26:28])) + int64(binary.LittleEndian.Uint16(buf[28:30]))
			if offset+localHeaderSize+nm > size {
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrTruncated, Err: fmt.Errorf("variable-size data needs %d bytes, only %d remain", nm, size-offset-localHeaderSize)})
				return
			}

			header := make([]byte, localHeaderSize+nm)
			copy(header, buf)
			if readN, err = src.ReadAt(header[localHeaderSize:], offset+localHeaderSize); err != nil && (!errors.Is(err, io.EOF) || int64(readN) < nm) {
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrStorageFailure, Err: err})
				return
			}

			e, n, err := UnmarshalLocalHeader(header)
			if err != nil {
				yield(LocalFile{}, &Error{Op: "scan local file header", Offset: offset, Kind: ErrMalformedContainer, Err: err})
				return
			}
			if e.HasDataDescriptor() {
				yield(LocalFile{}, &Error{Op: "scan local file header", Name: e.Name, Offset: offset, Kind: ErrMalformedContainer, Err: fmt.Errorf("payload length is in data descriptor")})
				return
			}

			e.Offset = offset
			f := LocalFile{Entry: e, DataOffset: offset + int64(n)}

			if end := f.End(); end > size {
				yield(f, &Error{Op: "scan local file header", Name: e.Name, Offset: offset, Kind: ErrTruncated, Err: fmt.Errorf("payload ends at offset 0x%x past end of data 0x%x", end, size)})
				return
			}

			if !yield(f, nil) {
				return
			}

			offset = f.End()
		}
	}
}
