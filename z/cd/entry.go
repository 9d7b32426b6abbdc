package cd

import (
	"archive/zip"
	"strings"
	"time"

	"github.com/nguyengg/zappend/codec"
)

const (
	// flagUTF8 is general purpose bit 11; names and comments are always UTF-8.
	flagUTF8 = 0x800
	// flagDataDescriptor is general purpose bit 3; sizes and CRC-32 follow the payload instead of the header.
	flagDataDescriptor = 0x8

	// versionDefault is "2.0", enough for deflate and directories.
	versionDefault = 20
	// versionModern is "6.3", required by APPNOTE for zstd and xz.
	versionModern = 63

	// attrDirectory is the MS-DOS directory attribute.
	attrDirectory = 0x10

	// uint32max and uint16max are the limits of the non-ZIP64 format.
	uint32max = (1 << 32) - 1
	uint16max = (1 << 16) - 1
)

// Entry is one item of a container: either a file with payload or a zero-length directory marker.
//
// Entry extends zip.FileHeader with the offset of its local file header.
type Entry struct {
	zip.FileHeader

	// Offset is the relative offset of the local file header from the start of the container.
	//
	// See https://en.wikipedia.org/wiki/ZIP_(file_format)#Central_directory_file_header_(CDFH).
	Offset int64
}

// NewEntry creates an Entry from the descriptive fields of fh, filling in every field derived from them.
//
// The name, comment, method, flags (only the level hint bits), CRC-32, 64-bit sizes, and Modified are taken from fh;
// versions, UTF-8 flag, MS-DOS timestamps, 32-bit sizes, and external attributes are derived. Two entries created
// from the same fields are equal, and equal to the entry parsed back from the serialised form.
func NewEntry(fh zip.FileHeader, offset int64) Entry {
	e := Entry{
		FileHeader: zip.FileHeader{
			Name:               fh.Name,
			Comment:            fh.Comment,
			CreatorVersion:     versionDefault,
			ReaderVersion:      versionDefault,
			Flags:              fh.Flags&0x6 | flagUTF8,
			Method:             fh.Method,
			CRC32:              fh.CRC32,
			CompressedSize:     uint32(min(fh.CompressedSize64, uint32max)),
			UncompressedSize:   uint32(min(fh.UncompressedSize64, uint32max)),
			CompressedSize64:   fh.CompressedSize64,
			UncompressedSize64: fh.UncompressedSize64,
			Extra:              nilIfEmpty(fh.Extra),
		},
		Offset: offset,
	}

	if m := codec.Method(fh.Method); m == codec.Zstd || m == codec.XZ {
		e.CreatorVersion, e.ReaderVersion = versionModern, versionModern
	}

	e.ModifiedDate, e.ModifiedTime = timeToMsDosTime(fh.Modified)
	e.Modified = msDosTimeToTime(e.ModifiedDate, e.ModifiedTime)

	if strings.HasSuffix(e.Name, "/") {
		e.ExternalAttrs = attrDirectory
	}

	return e
}

// IsDir returns true if the entry is a directory marker: its name ends with "/" and it has no content.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/") && e.UncompressedSize64 == 0
}

// CompressionMethod returns the Method as a codec.Method.
func (e *Entry) CompressionMethod() codec.Method {
	return codec.Method(e.Method)
}

// LocalFile is an Entry as found from its local file header.
type LocalFile struct {
	Entry

	// DataOffset is the offset of the first payload byte, immediately after the local file header.
	DataOffset int64
}

// End returns the offset one past the last payload byte.
func (f *LocalFile) End() int64 {
	return f.DataOffset + int64(f.CompressedSize64)
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
//
// taken from https://go.dev/src/archive/zip/struct.go.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-filetimetodosdatetime
//
// taken from https://go.dev/src/archive/zip/struct.go. Times before 1980 are clamped to 1980-01-01.
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	if t.IsZero() || t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}
