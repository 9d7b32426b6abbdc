package codec

import (
	"io"

	"github.com/ulikunitz/xz"
)

// xzCodec implements Codec for xz compression algorithm.
type xzCodec struct{}

var _ Codec = xzCodec{}

func (c xzCodec) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(r), nil
}

func (c xzCodec) NewEncoder(dst io.Writer, level int) (io.WriteCloser, error) {
	// the xz package has no presets so the level only scales the dictionary, 1 MiB to 8 MiB.
	cfg := xz.WriterConfig{DictCap: 1 << 20}
	if level >= 6 {
		cfg.DictCap = 8 << 20
	}

	return cfg.NewWriter(dst)
}
