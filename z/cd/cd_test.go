package cd

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/nguyengg/zappend/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFile struct {
	name    string
	comment string
	data    []byte
}

var modified = time.Date(2024, 10, 15, 13, 37, 42, 0, time.UTC)

// buildContainer writes files the same way zipper does: local header + payload each, then the trailer.
func buildContainer(t *testing.T, files []testFile) ([]byte, []Entry) {
	t.Helper()

	buf := &bytes.Buffer{}
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		fh := zip.FileHeader{Name: f.name, Comment: f.comment, Modified: modified}
		payload := []byte(nil)
		if f.data != nil {
			compressed, err := codec.Default.Compress(codec.Deflate, f.data, codec.BestCompression)
			require.NoErrorf(t, err, "Compress() error = %v", err)
			payload = compressed
			fh.Method = uint16(codec.Deflate)
			fh.Flags = codec.Deflate.LevelFlags(codec.BestCompression)
			fh.CRC32 = codec.Default.Checksum(f.data)
			fh.CompressedSize64 = uint64(len(compressed))
			fh.UncompressedSize64 = uint64(len(f.data))
		}

		e := NewEntry(fh, int64(buf.Len()))
		header, err := MarshalLocalHeader(e)
		require.NoErrorf(t, err, "MarshalLocalHeader() error = %v", err)
		buf.Write(header)
		buf.Write(payload)
		entries = append(entries, e)
	}

	trailer, err := SerializeTrailer(entries, int64(buf.Len()))
	require.NoErrorf(t, err, "SerializeTrailer() error = %v", err)
	buf.Write(trailer)

	return buf.Bytes(), entries
}

func testFiles() []testFile {
	return []testFile{
		{name: "1.txt", comment: "This is a comment", data: []byte("0 MISSION CONTROL 1\x00")},
		{name: "0.txt", comment: "This is a comment", data: []byte("1 MISSION CONTROL 0\x00")},
		{name: "directory/", comment: "no comment"},
		{name: "empty.txt", data: []byte{}},
	}
}

func TestLocalHeader_RoundTrip(t *testing.T) {
	for _, f := range testFiles() {
		t.Run(f.name, func(t *testing.T) {
			e := NewEntry(zip.FileHeader{
				Name:               f.name,
				Comment:            f.comment,
				Method:             uint16(codec.Deflate),
				Flags:              0x2,
				CRC32:              0xdeadbeef,
				CompressedSize64:   12,
				UncompressedSize64: 34,
				Modified:           modified,
			}, 0x1234)

			b, err := MarshalLocalHeader(e)
			assert.NoErrorf(t, err, "MarshalLocalHeader() error = %v", err)

			got, n, err := UnmarshalLocalHeader(append(b, "trailing payload"...))
			assert.NoErrorf(t, err, "UnmarshalLocalHeader() error = %v", err)
			assert.Equal(t, len(b), n)

			got.Offset = e.Offset
			assert.Equal(t, e, got)
		})
	}
}

func TestUnmarshalLocalHeader_Errors(t *testing.T) {
	e := NewEntry(zip.FileHeader{Name: "a.txt", Comment: "c"}, 0)
	b, err := MarshalLocalHeader(e)
	require.NoError(t, err)

	_, _, err = UnmarshalLocalHeader(b[:20])
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = UnmarshalLocalHeader(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	bad := bytes.Clone(b)
	bad[0] = 'X'
	_, _, err = UnmarshalLocalHeader(bad)
	assert.ErrorIs(t, err, ErrMalformedContainer)
}

func TestNewEntry_Derived(t *testing.T) {
	dir := NewEntry(zip.FileHeader{Name: "directory/"}, 0)
	assert.True(t, dir.IsDir())
	assert.Equal(t, uint32(0x10), dir.ExternalAttrs)
	assert.Equal(t, uint16(0x800), dir.Flags)

	file := NewEntry(zip.FileHeader{Name: "empty.txt"}, 0)
	assert.False(t, file.IsDir())
	assert.Equal(t, uint32(0), file.ExternalAttrs)

	// a name with the suffix but content is not a directory marker.
	notDir := NewEntry(zip.FileHeader{Name: "weird/", UncompressedSize64: 1}, 0)
	assert.False(t, notDir.IsDir())

	zstd := NewEntry(zip.FileHeader{Name: "a.zst", Method: uint16(codec.Zstd)}, 0)
	assert.Equal(t, uint16(63), zstd.ReaderVersion)
}

func TestReadDirectory(t *testing.T) {
	data, expected := buildContainer(t, testFiles())

	r, entries, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
	assert.NoErrorf(t, err, "ReadDirectory() error = %v", err)
	assert.Equal(t, expected, entries)
	assert.Equal(t, uint16(len(expected)), r.CDCount)
	assert.Equal(t, int64(len(data)), r.Offset+r.Len())
}

func TestReadDirectory_Empty(t *testing.T) {
	data, _ := buildContainer(t, nil)
	assert.Equal(t, 22, len(data))

	r, entries, err := ReadDirectory(bytes.NewReader(data), int64(len(data)))
	assert.NoErrorf(t, err, "ReadDirectory() error = %v", err)
	assert.Empty(t, entries)
	assert.Equal(t, EOCDRecord{}, r)
}

func TestReadDirectory_ReadableByArchiveZip(t *testing.T) {
	data, _ := buildContainer(t, testFiles())

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoErrorf(t, err, "zip.NewReader() error = %v", err)

	for i, f := range testFiles() {
		zf := zr.File[i]
		assert.Equal(t, f.name, zf.Name)
		assert.Equal(t, f.comment, zf.Comment)

		rc, err := zf.Open()
		require.NoErrorf(t, err, "zip.File.Open() error = %v", err)
		got, err := io.ReadAll(rc)
		_ = rc.Close()
		assert.NoErrorf(t, err, "read from zip file error = %v", err)
		assert.Equal(t, len(f.data), len(got))
		assert.True(t, bytes.Equal(f.data, got))
	}
}

func TestReadDirectory_FromArchiveZip(t *testing.T) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, name := range []string{"a.txt", "b/", "b/c.txt"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if name[len(name)-1] != '/' {
			_, _ = w.Write([]byte("hello, " + name))
		}
	}
	require.NoError(t, zw.Close())

	_, entries, err := ReadDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.NoErrorf(t, err, "ReadDirectory() error = %v", err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b/", "b/c.txt"}, names)
	assert.True(t, entries[1].IsDir())
}

func TestParseDirectory_Malformed(t *testing.T) {
	data, _ := buildContainer(t, testFiles())
	size := int64(len(data))
	r, err := FindEOCD(bytes.NewReader(data), size)
	require.NoError(t, err)
	directory := data[r.CDOffset : int64(r.CDOffset)+int64(r.CDSize)]

	tests := []struct {
		name   string
		data   []byte
		record func(r EOCDRecord) EOCDRecord
		size   int64
	}{
		{
			name:   "short directory",
			data:   directory[:len(directory)-1],
			record: func(r EOCDRecord) EOCDRecord { return r },
			size:   size,
		},
		{
			name: "too few records",
			data: directory,
			record: func(r EOCDRecord) EOCDRecord {
				r.CDCount, r.CDCountOnDisk = r.CDCount-1, r.CDCountOnDisk-1
				return r
			},
			size: size,
		},
		{
			name: "too many records",
			data: directory,
			record: func(r EOCDRecord) EOCDRecord {
				r.CDCount, r.CDCountOnDisk = r.CDCount+1, r.CDCountOnDisk+1
				return r
			},
			size: size,
		},
		{
			name: "directory does not end at EOCD",
			data: directory,
			record: func(r EOCDRecord) EOCDRecord {
				r.CDOffset--
				return r
			},
			size: size,
		},
		{
			name:   "trailing bytes after EOCD",
			data:   directory,
			record: func(r EOCDRecord) EOCDRecord { return r },
			size:   size + 1,
		},
		{
			name: "multi-disk",
			data: directory,
			record: func(r EOCDRecord) EOCDRecord {
				r.DiskNumber = 1
				return r
			},
			size: size,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDirectory(tt.data, tt.record(r), tt.size)
			assert.ErrorIs(t, err, ErrMalformedContainer)
		})
	}
}

func TestParseDirectory_OffsetOverlapsDirectory(t *testing.T) {
	entries := []Entry{NewEntry(zip.FileHeader{
		Name:               "a.txt",
		CompressedSize64:   100,
		UncompressedSize64: 100,
	}, 0)}

	// the payload region is only 10 bytes but the entry claims 100.
	trailer, err := SerializeTrailer(entries, 10)
	require.NoError(t, err)
	data := append(make([]byte, 10), trailer...)

	_, _, err = ReadDirectory(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrMalformedContainer)

	var e *Error
	if assert.ErrorAs(t, err, &e) {
		assert.Equal(t, "a.txt", e.Name)
		assert.Equal(t, int64(10), e.Offset)
	}
}

func TestFindEOCD(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		data := bytes.Repeat([]byte("not a zip file"), 10)
		_, err := FindEOCD(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrNoEOCDFound)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := FindEOCD(bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, ErrNoEOCDFound)
	})

	t.Run("signature inside comment", func(t *testing.T) {
		r := EOCDRecord{Comment: "PK\x05\x06 appears in this comment"}
		b, err := r.MarshalBinary()
		require.NoError(t, err)

		got, err := FindEOCD(bytes.NewReader(b), int64(len(b)))
		assert.NoErrorf(t, err, "FindEOCD() error = %v", err)
		assert.Equal(t, r, got)
	})

	t.Run("truncated trailer", func(t *testing.T) {
		data, _ := buildContainer(t, testFiles())
		data = data[:len(data)-1]
		_, err := FindEOCD(bytes.NewReader(data), int64(len(data)))
		assert.Error(t, err)
	})

	for _, n := range []int{0, 1, 1024, 65535} {
		t.Run(fmt.Sprintf("comment length %d", n), func(t *testing.T) {
			r := EOCDRecord{CDCount: 3, CDCountOnDisk: 3, Comment: string(bytes.Repeat([]byte{'c'}, n))}
			b, err := r.MarshalBinary()
			require.NoError(t, err)

			data := append(bytes.Repeat([]byte{'x'}, 100), b...)
			got, err := FindEOCD(bytes.NewReader(data), int64(len(data)))
			assert.NoErrorf(t, err, "FindEOCD() error = %v", err)
			r.Offset = 100
			assert.Equal(t, r, got)
		})
	}
}

func TestNewEOCDRecord_Limits(t *testing.T) {
	_, err := NewEOCDRecord(1<<16, 0, 0)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = NewEOCDRecord(1, 1<<32, 0)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSerializeDirectory_TooLarge(t *testing.T) {
	_, err := SerializeDirectory([]Entry{NewEntry(zip.FileHeader{Name: "big", UncompressedSize64: 1 << 32}, 0)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestScan(t *testing.T) {
	data, expected := buildContainer(t, testFiles())

	got := make([]Entry, 0)
	for f, err := range Scan(bytes.NewReader(data), int64(len(data))) {
		require.NoErrorf(t, err, "Scan() error = %v", err)
		got = append(got, f.Entry)
	}

	assert.Equal(t, expected, got)
}

func TestScan_WithoutDirectory(t *testing.T) {
	data, expected := buildContainer(t, testFiles())
	r, err := FindEOCD(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// drop everything from the directory onwards as if the append was interrupted right after truncation.
	data = data[:r.CDOffset]

	got := make([]Entry, 0)
	var end int64
	for f, err := range Scan(bytes.NewReader(data), int64(len(data))) {
		require.NoErrorf(t, err, "Scan() error = %v", err)
		got = append(got, f.Entry)
		end = f.End()
	}

	assert.Equal(t, expected, got)
	assert.Equal(t, int64(len(data)), end)
}

func TestScan_TruncatedPayload(t *testing.T) {
	data, expected := buildContainer(t, testFiles()[:2])
	r, err := FindEOCD(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// cut the second payload short.
	data = data[:r.CDOffset-3]

	got := make([]Entry, 0)
	var scanErr error
	for f, err := range Scan(bytes.NewReader(data), int64(len(data))) {
		if err != nil {
			scanErr = err
			assert.Equal(t, expected[1].Name, f.Name)
			break
		}
		got = append(got, f.Entry)
	}

	assert.ErrorIs(t, scanErr, ErrTruncated)
	assert.Equal(t, expected[:1], got)
}

func TestScan_Garbage(t *testing.T) {
	data := []byte("garbage that is long enough to not be a header")
	for _, err := range Scan(bytes.NewReader(data), int64(len(data))) {
		assert.ErrorIs(t, err, ErrMalformedContainer)
	}
}

func TestScan_DataDescriptor(t *testing.T) {
	e := NewEntry(zip.FileHeader{Name: "streamed.txt", Modified: modified}, 0)
	e.Flags |= flagDataDescriptor
	header, err := MarshalLocalHeader(e)
	require.NoError(t, err)

	got, _, err := UnmarshalLocalHeader(header)
	require.NoErrorf(t, err, "UnmarshalLocalHeader() error = %v", err)
	assert.True(t, got.HasDataDescriptor())

	// the payload length is unknown without the directory so Scan cannot continue past it.
	data := append(header, "streamed payload"...)
	var scanErr error
	for _, err := range Scan(bytes.NewReader(data), int64(len(data))) {
		scanErr = err
	}
	assert.ErrorIs(t, scanErr, ErrMalformedContainer)
}

func TestError(t *testing.T) {
	err := &Error{Op: "extract", Path: "test.zip", Name: "0.txt", Offset: 0x1e, Kind: ErrIntegrityMismatch, Err: fmt.Errorf("crc-32 mismatch")}
	assert.Equal(t, `extract "test.zip" entry "0.txt" at offset 0x1e: integrity mismatch: crc-32 mismatch`, err.Error())
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.NotErrorIs(t, err, ErrEntryNotFound)

	err = &Error{Op: "open", Offset: -1, Kind: ErrEntryNotFound}
	assert.Equal(t, "open: entry not found", err.Error())
}
