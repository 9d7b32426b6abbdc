// Package verify proves that containers round-trip through zipper and z.
//
// Run writes a fixed set of records and a directory marker to a fresh container, then reads everything back in both
// the sorted and the unsorted order, recording every checked condition in a Report. Run is finite and deterministic
// for the same Options.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/namedhash"
	"github.com/nguyengg/zappend/storage"
	"github.com/nguyengg/zappend/z"
	"github.com/nguyengg/zappend/z/cd"
	"github.com/nguyengg/zappend/zipper"
)

const (
	// DefaultText is the default value for [Options.Text].
	DefaultText = "MISSION CONTROL I wouldn't worry too much about the computer. First of all, there is still a chance that he is right, despite your tests, and"
	// DefaultComment is the default value for [Options.Comment].
	DefaultComment = "This is a comment"
	// DefaultDirName is the default value for [Options.DirName].
	DefaultDirName = "directory/"
	// DefaultDirComment is the default value for [Options.DirComment].
	DefaultDirComment = "no comment"
)

// Options customises Run.
type Options struct {
	// Records is the number of records to write.
	//
	// Default to 1.
	Records int

	// Text is the fixed part of every record.
	//
	// Record i of n is named "i.txt" with content "(n-1-i) Text i". Records are appended from i = n-1 down to 0 so
	// the central directory is not in name order.
	//
	// Default to DefaultText.
	Text string

	// Comment is the comment of every record.
	//
	// Default to DefaultComment.
	Comment string

	// DirName is the name of the directory marker appended after all records.
	//
	// Default to DefaultDirName.
	DirName string

	// DirComment is the comment of the directory marker.
	//
	// Default to DefaultDirComment.
	DirComment string

	// Level is the compression level of every record.
	//
	// Default to codec.BestCompression.
	Level int

	// Method is the compression method of every record.
	//
	// Default to codec.Deflate.
	Method codec.Method

	// NoNullTerminate stops appending a NUL byte to the content of every record.
	NoNullTerminate bool

	// Atomic uses zipper.Zipper.AppendStaged instead of zipper.Zipper.AppendInPlace.
	Atomic bool

	// Logger receives one log line per check.
	//
	// Default to a logger that discards everything.
	Logger *slog.Logger
}

// Run removes the container at path, rebuilds it from Options, and verifies every record can be read back.
//
// The returned error is only non-nil if ctx is cancelled, in which case the partial Report is still returned. Every
// failed condition is recorded in the Report instead; use Report.Err to get the most severe one.
func Run(ctx context.Context, fsys storage.FS, path string, optFns ...func(*Options)) (*Report, error) {
	opts := &Options{
		Records:    1,
		Text:       DefaultText,
		Comment:    DefaultComment,
		DirName:    DefaultDirName,
		DirComment: DefaultDirComment,
		Level:      codec.BestCompression,
		Method:     codec.Deflate,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Records < 0 {
		opts.Records = 0
	}

	v := &verifier{
		Options: opts,
		fsys:    fsys,
		report:  &Report{Path: path},
		zipper: zipper.New(fsys, path, zipper.WithLevel(opts.Level), zipper.WithMethod(opts.Method), zipper.WithLogger(opts.Logger)),
	}

	steps := []func(ctx context.Context) error{v.remove, v.append, v.list}
	for _, skipSort := range []bool{false, true} {
		steps = append(steps, func(ctx context.Context) error {
			return v.extract(ctx, skipSort)
		})
	}
	steps = append(steps, v.readBack)

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return v.report, err
		}
		if err := step(ctx); err != nil {
			return v.report, err
		}
	}

	return v.report, nil
}

// Record returns the name and content of record i of n.
func (o *Options) Record(i, n int) (string, []byte) {
	content := fmt.Appendf(nil, "%d %s %d", n-1-i, o.Text, i)
	if !o.NoNullTerminate {
		content = append(content, 0)
	}

	return fmt.Sprintf("%d.txt", i), content
}

type verifier struct {
	*Options
	fsys   storage.FS
	report *Report
	zipper *zipper.Zipper
}

func (v *verifier) check(name string, err error) bool {
	ok := v.report.record(name, err)
	if ok {
		v.Logger.Debug("check passed", "path", v.report.Path, "check", name)
	} else {
		v.Logger.Warn("check failed", "path", v.report.Path, "check", name, "error", err)
	}

	return ok
}

func (v *verifier) remove(ctx context.Context) error {
	v.check("remove existing container", v.zipper.Remove())
	return nil
}

func (v *verifier) append(ctx context.Context) error {
	appendFn, strategy := v.zipper.AppendInPlace, "in place"
	if v.Atomic {
		appendFn, strategy = v.zipper.AppendStaged, "staged"
	}

	for i := v.Records - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, content := v.Record(i, v.Records)
		_, err := appendFn(name, content, v.Comment)
		v.check(fmt.Sprintf("append %q %s", name, strategy), err)
	}

	_, err := appendFn(v.DirName, nil, v.DirComment)
	v.check(fmt.Sprintf("append directory %q %s", v.DirName, strategy), err)
	return nil
}

// list opens the container sorted and checks every entry's directory status.
func (v *verifier) list(ctx context.Context) error {
	r, err := z.Open(v.fsys, v.report.Path, z.WithLogger(v.Logger))
	if !v.check("open for listing", err) {
		return nil
	}
	defer r.Close()

	v.report.Entries = r.EntryCount()
	if want := v.Records + 1; r.EntryCount() != want {
		v.check("entry count", fmt.Errorf("got %d entries, expected %d: %w", r.EntryCount(), want, ErrMismatch))
	} else {
		v.check("entry count", nil)
	}

	found := false
	for i := range r.EntryCount() {
		e, err := r.Stat(i)
		if !v.check(fmt.Sprintf("stat entry %d", i), err) {
			continue
		}

		isDir, err := r.IsDirectory(i)
		if err == nil && isDir != (e.Name == v.DirName) {
			err = fmt.Errorf("entry %q reports isDirectory=%t: %w", e.Name, isDir, ErrMismatch)
		}
		v.check(fmt.Sprintf("isDirectory %q", e.Name), err)

		found = found || e.Name == v.DirName
	}

	if !found {
		v.check(fmt.Sprintf("find directory %q", v.DirName), fmt.Errorf("directory marker is missing: %w", ErrMismatch))
	}

	return nil
}

// extract opens the container in the given order and checks the content and size of every record.
func (v *verifier) extract(ctx context.Context, skipSort bool) error {
	order := "sorted"
	if skipSort {
		order = "unsorted"
	}

	r, err := z.Open(v.fsys, v.report.Path, func(opts *z.Options) {
		opts.SkipSort = skipSort
		opts.Logger = v.Logger
	})
	if !v.check(fmt.Sprintf("open %s", order), err) {
		return nil
	}
	defer r.Close()

	for i := range v.Records {
		if err = ctx.Err(); err != nil {
			return err
		}

		name, want := v.Record(i, v.Records)
		got, err := r.Extract(name)
		if !v.check(fmt.Sprintf("extract %q (%s)", name, order), err) {
			continue
		}

		if !bytes.Equal(got, want) {
			err = fmt.Errorf("got %q, expected %q: %w", got, want, ErrMismatch)
		}
		v.check(fmt.Sprintf("compare %q (%s)", name, order), err)

		e, err := r.Stat(r.Index(name))
		if err == nil && e.UncompressedSize64 != uint64(len(want)) {
			err = fmt.Errorf("uncompressed size is %d, expected %d: %w", e.UncompressedSize64, len(want), ErrMismatch)
		}
		v.check(fmt.Sprintf("size of %q (%s)", name, order), err)
	}

	return nil
}

// readBack reads the container in its entirety to check its size and compute its fingerprint.
func (v *verifier) readBack(ctx context.Context) error {
	f, err := v.fsys.OpenFile(v.report.Path, os.O_RDONLY, 0)
	if !v.check("open for read-back", err) {
		return nil
	}
	defer f.Close()

	size, err := storage.Size(f)
	if !v.check("stat for read-back", err) {
		return nil
	}

	fingerprint, n, err := namedhash.Sum(io.NewSectionReader(f, 0, size))
	if err == nil && n != size {
		err = fmt.Errorf("read back %d bytes, file size is %d: %w", n, size, ErrMismatch)
	}
	if !v.check("read back", err) {
		return nil
	}

	eocd, _, err := cd.ReadDirectory(f, size)
	if err == nil && eocd.Offset+eocd.Len() != size {
		err = fmt.Errorf("EOCD ends at %d, file size is %d: %w", eocd.Offset+eocd.Len(), size, ErrMismatch)
	}
	v.check("EOCD is last", err)

	v.report.Size, v.report.Fingerprint = size, fingerprint
	v.Logger.Info("read back container", "path", v.report.Path, "size", size, "fingerprint", fingerprint)
	return nil
}

func isMismatch(err error) bool {
	return errors.Is(err, ErrMismatch) || errors.Is(err, cd.ErrIntegrityMismatch)
}
