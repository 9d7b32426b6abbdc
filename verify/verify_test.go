package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/namedhash"
	"github.com/nguyengg/zappend/storage"
	"github.com/nguyengg/zappend/z/cd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDir(t *testing.T) (*storage.Dir, string) {
	t.Helper()

	base := t.TempDir()
	d, err := storage.OpenDir(base)
	require.NoErrorf(t, err, "OpenDir() error = %v", err)
	t.Cleanup(func() { _ = d.Close() })

	return d, base
}

func TestRun(t *testing.T) {
	tests := []struct {
		name   string
		optFns []func(*Options)
	}{
		{name: "default"},
		{name: "many records", optFns: []func(*Options){func(opts *Options) { opts.Records = 12 }}},
		{name: "atomic", optFns: []func(*Options){func(opts *Options) { opts.Records = 3; opts.Atomic = true }}},
		{name: "stored", optFns: []func(*Options){func(opts *Options) { opts.Level = 0 }}},
		{name: "zstd", optFns: []func(*Options){func(opts *Options) { opts.Records = 3; opts.Method = codec.Zstd }}},
		{name: "xz", optFns: []func(*Options){func(opts *Options) { opts.Records = 3; opts.Method = codec.XZ }}},
		{name: "no terminator", optFns: []func(*Options){func(opts *Options) { opts.NoNullTerminate = true }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, base := newDir(t)

			report, err := Run(context.Background(), d, "test.zip", tt.optFns...)
			require.NoErrorf(t, err, "Run() error = %v", err)
			assert.NoErrorf(t, report.Err(), "report:\n%s", report)
			assert.True(t, report.Passed())

			_, failed, mismatched := report.Counts()
			assert.Zero(t, failed)
			assert.Zero(t, mismatched)

			fi, err := os.Stat(filepath.Join(base, "test.zip"))
			require.NoError(t, err)
			assert.Equal(t, fi.Size(), report.Size)

			f, err := os.Open(filepath.Join(base, "test.zip"))
			require.NoError(t, err)
			defer f.Close()
			ok, err := namedhash.Verify(report.Fingerprint, f)
			assert.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRun_ReplacesExisting(t *testing.T) {
	d, base := newDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(base, "test.zip"), []byte("not a zip file"), 0o644))

	report, err := Run(context.Background(), d, "test.zip", func(opts *Options) { opts.Records = 2 })
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, 3, report.Entries)
}

func TestRun_Deterministic(t *testing.T) {
	d, _ := newDir(t)

	// the modification time only has 2-second resolution so two runs can still differ; compare everything else.
	first, err := Run(context.Background(), d, "a.zip", func(opts *Options) { opts.Records = 4 })
	require.NoError(t, err)
	second, err := Run(context.Background(), d, "b.zip", func(opts *Options) { opts.Records = 4 })
	require.NoError(t, err)

	assert.Equal(t, first.Size, second.Size)
	assert.Equal(t, len(first.Checks), len(second.Checks))
	for i := range first.Checks {
		assert.Equal(t, first.Checks[i].Name, second.Checks[i].Name)
	}
}

func TestRun_Cancelled(t *testing.T) {
	d, _ := newDir(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Run(ctx, d, "test.zip")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, report)
	assert.Empty(t, report.Checks)
}

func TestRecord(t *testing.T) {
	opts := &Options{Text: DefaultText}

	name, content := opts.Record(0, 1)
	assert.Equal(t, "0.txt", name)
	assert.Equal(t, "0 "+DefaultText+" 0\x00", string(content))

	name, content = opts.Record(0, 3)
	assert.Equal(t, "0.txt", name)
	assert.Equal(t, "2 "+DefaultText+" 0\x00", string(content))

	opts.NoNullTerminate = true
	name, content = opts.Record(2, 3)
	assert.Equal(t, "2.txt", name)
	assert.Equal(t, "0 "+DefaultText+" 2", string(content))
}

func TestReport_Err(t *testing.T) {
	r := &Report{Path: "test.zip"}
	r.record("first", nil)
	assert.NoError(t, r.Err())

	failure := errors.New("storage is gone")
	r.record("second", failure)
	r.record("third", &cd.Error{Op: "extract", Name: "0.txt", Offset: 0x10, Kind: cd.ErrIntegrityMismatch})
	r.record("fourth", errors.New("also failed"))
	r.record("fifth", ErrMismatch)

	passed, failed, mismatched := r.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, mismatched)

	// the first mismatch is more severe than any failure.
	err := r.Err()
	var ce *CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "third", ce.Check.Name)
	assert.Equal(t, Mismatch, ce.Check.Status)
	assert.ErrorIs(t, err, cd.ErrIntegrityMismatch)

	assert.False(t, r.Passed())
	assert.Equal(t, 5, strings.Count(r.String(), "\n")+1)
}
