package codec

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec implements Codec for zstd compression algorithm.
type zstdCodec struct{}

var _ Codec = zstdCodec{}

func (c zstdCodec) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	return dec.IOReadCloser(), nil
}

func (c zstdCodec) NewEncoder(dst io.Writer, level int) (io.WriteCloser, error) {
	// zlib level 9 is mapped to zstd level 19 which is what zstd.SpeedBestCompression is.
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(max(level, 1)*2+1)))
}
