package codec

import (
	"fmt"
	"strings"
)

// Method is the ZIP compression method identifier stored in every header.
type Method uint16

// Method ids as assigned by APPNOTE.TXT section 4.4.5.
const (
	Store   Method = 0
	Deflate Method = 8
	Zstd    Method = 93
	XZ      Method = 95
)

// BestCompression is the highest level accepted by every codec.
const BestCompression = 9

// String returns the lowercase name of the method.
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	case XZ:
		return "xz"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// ParseMethod is the inverse of Method.String.
//
// Returns false if the name is not recognised, in which case Deflate is returned.
func ParseMethod(name string) (Method, bool) {
	switch strings.ToLower(name) {
	case "store", "stored":
		return Store, true
	case "deflate", "":
		return Deflate, true
	case "zstd", "zst":
		return Zstd, true
	case "xz":
		return XZ, true
	default:
		return Deflate, false
	}
}

// LevelFlags returns the general purpose bits 1 and 2 that record the compression level hint.
//
// The bits are only defined for Deflate; other methods return 0.
func (m Method) LevelFlags(level int) uint16 {
	if m != Deflate {
		return 0
	}

	switch {
	case level >= 8:
		return 0x2
	case level == 2:
		return 0x4
	case level == 1:
		return 0x6
	default:
		return 0
	}
}
