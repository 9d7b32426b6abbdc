package codec

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Codec has methods to create compressor/encoder and decompressor/decoder.
type Codec interface {
	// NewDecoder creates a decoder to decompress contents from the given io.Reader.
	NewDecoder(src io.Reader) (io.ReadCloser, error)
	// NewEncoder creates an encoder to compress contents to the given io.Writer at the given level.
	//
	// Level follows the zlib convention: 1 is fastest, 9 is best compression. Codecs with a different scale map
	// the value onto their own.
	NewEncoder(dst io.Writer, level int) (io.WriteCloser, error)
}

// Service is the compression and checksum provider used by the archive reader and writer.
//
// Implementations must be pure: the same input always produces an output that decompresses to the same bytes.
type Service interface {
	// Compress compresses data with the given method and level.
	Compress(m Method, data []byte, level int) ([]byte, error)

	// Decompress decompresses data with the given method.
	//
	// At most expectedLen+1 bytes are produced so that a caller can detect a payload that is longer than declared
	// without decompressing all of it.
	Decompress(m Method, data []byte, expectedLen uint64) ([]byte, error)

	// Checksum returns the IEEE CRC-32 of data.
	Checksum(data []byte) uint32
}

// ErrUnsupportedMethod is returned if no Codec is registered for a Method.
var ErrUnsupportedMethod = errors.New("unsupported compression method")

// Default is the Service backed by the codecs registered in this package.
var Default Service = registry{
	Deflate: deflateCodec{},
	Zstd:    zstdCodec{},
	XZ:      xzCodec{},
}

// maxPrealloc is the most that Decompress reserves before any output is produced.
const maxPrealloc = 1 << 20

// registry implements Service by dispatching to a Codec per Method.
//
// Store is handled directly since it is the identity.
type registry map[Method]Codec

func (r registry) Compress(m Method, data []byte, level int) ([]byte, error) {
	if m == Store {
		return bytes.Clone(data), nil
	}

	c, ok := r[m]
	if !ok {
		return nil, fmt.Errorf("compress %s: %w", m, ErrUnsupportedMethod)
	}

	buf := &bytes.Buffer{}
	enc, err := c.NewEncoder(buf, level)
	if err != nil {
		return nil, fmt.Errorf("compress %s: create encoder error: %w", m, err)
	}
	if _, err = enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress %s: write error: %w", m, err)
	}
	if err = enc.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: close encoder error: %w", m, err)
	}

	return buf.Bytes(), nil
}

func (r registry) Decompress(m Method, data []byte, expectedLen uint64) ([]byte, error) {
	if m == Store {
		return bytes.Clone(data), nil
	}

	c, ok := r[m]
	if !ok {
		return nil, fmt.Errorf("decompress %s: %w", m, ErrUnsupportedMethod)
	}

	dec, err := c.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: create decoder error: %w", m, err)
	}
	defer dec.Close()

	// expectedLen comes from a header that may be corrupt so only a bounded amount is reserved up front.
	buf := bytes.NewBuffer(make([]byte, 0, min(expectedLen, maxPrealloc)))
	if _, err = buf.ReadFrom(io.LimitReader(dec, int64(expectedLen)+1)); err != nil {
		return nil, fmt.Errorf("decompress %s: read error: %w", m, err)
	}

	return buf.Bytes(), nil
}

func (r registry) Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
