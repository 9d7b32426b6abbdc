package codec

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateCodec implements Codec for raw DEFLATE (RFC 1951) streams as stored in ZIP entries.
type deflateCodec struct{}

var _ Codec = deflateCodec{}

func (c deflateCodec) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

func (c deflateCodec) NewEncoder(dst io.Writer, level int) (io.WriteCloser, error) {
	return flate.NewWriter(dst, min(max(level, flate.HuffmanOnly), flate.BestCompression))
}
