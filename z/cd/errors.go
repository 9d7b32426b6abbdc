package cd

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrMalformedContainer is returned when the EOCD record or the central directory fails structural validation.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrCorruptContainer is returned when a container cannot be opened because it is malformed.
	//
	// Errors of this kind always wrap ErrMalformedContainer or ErrNoEOCDFound as well.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrNoEOCDFound is returned if no EOCD signature was found.
	ErrNoEOCDFound = errors.New("end of central directory not found; most likely not a ZIP file")

	// ErrEntryNotFound is returned when the requested name is absent from the central directory.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrIntegrityMismatch is returned when a decompressed payload fails its size or CRC-32 check.
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrCodecFailure is returned when the codec fails to compress or decompress.
	ErrCodecFailure = errors.New("codec failure")

	// ErrStorageFailure is returned when the underlying storage fails a read, write, truncate, or remove.
	ErrStorageFailure = errors.New("storage failure")

	// ErrTooLarge is returned when an entry or the container would exceed the 32-bit ZIP limits.
	ErrTooLarge = errors.New("container limits exceeded")

	// ErrTruncated is returned by Scan when a local header or its payload runs past the end of the data.
	ErrTruncated = errors.New("truncated local file")
)

// Error carries the context of a failed container operation.
//
// Kind is one of the sentinel errors of this package so that errors.Is works on the category while Err keeps the
// underlying cause.
type Error struct {
	// Op is the failed operation such as "open", "append", "extract".
	Op string
	// Path is the container path.
	Path string
	// Name is the entry name, if any.
	Name string
	// Offset is the byte offset in the container where the failure was detected, or -1.
	Offset int64
	// Kind is the sentinel error classifying this error.
	Kind error
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Path != "" {
		sb.WriteString(` "`)
		sb.WriteString(e.Path)
		sb.WriteString(`"`)
	}
	if e.Name != "" {
		sb.WriteString(` entry "`)
		sb.WriteString(e.Name)
		sb.WriteString(`"`)
	}
	if e.Offset >= 0 {
		sb.WriteString(" at offset 0x")
		sb.WriteString(strconv.FormatInt(e.Offset, 16))
	}
	sb.WriteString(": ")
	switch {
	case e.Kind != nil && e.Err != nil:
		sb.WriteString(e.Kind.Error())
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	case e.Kind != nil:
		sb.WriteString(e.Kind.Error())
	case e.Err != nil:
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
