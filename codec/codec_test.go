package codec

import (
	"bytes"
	"crypto/rand"
	"hash/crc32"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("MISSION CONTROL I wouldn't worry too much about the computer. "), 64)
	random := make([]byte, 4096)
	_, _ = rand.Read(random)

	for _, m := range []Method{Store, Deflate, Zstd, XZ} {
		for _, level := range []int{0, 1, 6, BestCompression} {
			for name, input := range map[string][]byte{"text": data, "random": random, "empty": {}} {
				t.Run(m.String()+"/"+name, func(t *testing.T) {
					compressed, err := Default.Compress(m, input, level)
					assert.NoErrorf(t, err, "Compress(%s, %d) error = %v", m, level, err)

					got, err := Default.Decompress(m, compressed, uint64(len(input)))
					assert.NoErrorf(t, err, "Decompress(%s) error = %v", m, err)
					assert.Equal(t, len(input), len(got))
					assert.True(t, bytes.Equal(input, got), "decompressed data differs from input")
				})
			}
		}
	}
}

func TestDefault_DecompressStopsPastExpectedLength(t *testing.T) {
	data := bytes.Repeat([]byte{'a'}, 1024)

	compressed, err := Default.Compress(Deflate, data, BestCompression)
	assert.NoErrorf(t, err, "Compress() error = %v", err)

	// lying about the length must surface as a longer result, not a silently truncated one.
	got, err := Default.Decompress(Deflate, compressed, 10)
	assert.NoErrorf(t, err, "Decompress() error = %v", err)
	assert.Equal(t, 11, len(got))
}

func TestDefault_DecompressBoundsAllocation(t *testing.T) {
	compressed, err := Default.Compress(Deflate, []byte("hello, world hello, world"), BestCompression)
	assert.NoErrorf(t, err, "Compress() error = %v", err)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	// a corrupt header may declare almost 4 GiB for a few bytes of input.
	got, err := Default.Decompress(Deflate, compressed, 0xFFFFFFF0)
	runtime.ReadMemStats(&after)

	assert.NoErrorf(t, err, "Decompress() error = %v", err)
	assert.Equal(t, "hello, world hello, world", string(got))
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestDefault_UnsupportedMethod(t *testing.T) {
	_, err := Default.Compress(Method(12), []byte("abc"), 9)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = Default.Decompress(Method(12), []byte("abc"), 3)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestDefault_CorruptDeflate(t *testing.T) {
	_, err := Default.Decompress(Deflate, []byte{0xff, 0xff, 0xff, 0xff}, 100)
	assert.Error(t, err)
}

func TestDefault_Checksum(t *testing.T) {
	data := []byte("0 MISSION CONTROL 0\x00")
	assert.Equal(t, crc32.ChecksumIEEE(data), Default.Checksum(data))
	assert.Equal(t, uint32(0), Default.Checksum(nil))
}

func TestMethod_LevelFlags(t *testing.T) {
	tests := []struct {
		method Method
		level  int
		want   uint16
	}{
		{Deflate, 9, 0x2},
		{Deflate, 10, 0x2},
		{Deflate, 8, 0x2},
		{Deflate, 6, 0},
		{Deflate, 2, 0x4},
		{Deflate, 1, 0x6},
		{Store, 9, 0},
		{Zstd, 9, 0},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.method.LevelFlags(tt.level), "%s.LevelFlags(%d)", tt.method, tt.level)
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{Store, Deflate, Zstd, XZ} {
		got, ok := ParseMethod(m.String())
		assert.True(t, ok)
		assert.Equal(t, m, got)
	}

	got, ok := ParseMethod("lz4")
	assert.False(t, ok)
	assert.Equal(t, Deflate, got)
}
