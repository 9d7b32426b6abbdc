package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zappend/internal"
	"github.com/nguyengg/zappend/z/cd"
	"github.com/nguyengg/zappend/zipper"
)

type Add struct {
	global

	Atomic  bool   `long:"atomic" description:"append by staging a copy then renaming it over the container instead of in place"`
	Level   *int   `short:"l" long:"level" description:"compression level from 0 (store) to 9; overrides [archive] level from .zappend" default-mask:"6"`
	Method  string `short:"m" long:"method" description:"compression method; overrides [archive] method from .zappend" choice:"store" choice:"deflate" choice:"zstd" choice:"xz" default-mask:"deflate"`
	Comment string `short:"c" long:"comment" description:"comment of every new entry"`
	Prefix  string `short:"p" long:"prefix" description:"directory in the container to add files to"`
	Args    struct {
		Archive string           `positional-arg-name:"archive" description:"the container to append to; created if it does not exist" required:"yes"`
		Files   []flags.Filename `positional-arg-name:"file" description:"local files to append; a directory appends an empty directory marker" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Add) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	e, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	level, method, err := e.compression(c.Level, c.Method, zipper.DefaultLevel)
	if err != nil {
		return err
	}

	zw := zipper.New(e.fsys, c.Args.Archive, zipper.WithLevel(level), zipper.WithMethod(method), zipper.WithLogger(e.logger))
	appendFn := zw.AppendInPlace
	if c.Atomic {
		appendFn = zw.AppendStaged
	}

	success, n := 0, len(c.Args.Files)
	for i, file := range c.Args.Files {
		if err = ctx.Err(); err != nil {
			log.Printf("interrupted; successfully added %d/%d files", success, n)
			return nil
		}

		ctx := internal.WithPrefixLogger(ctx, internal.Prefix(i+1, n, string(file)))
		if err = c.add(ctx, appendFn, string(file)); err != nil {
			internal.MustLogger(ctx).Printf("error: %v", err)
			continue
		}

		success++
	}

	log.Printf(`successfully added %d/%d files to "%s"`, success, n, c.Args.Archive)
	if success != n {
		return fmt.Errorf("failed to add %d/%d files", n-success, n)
	}

	return nil
}

func (c *Add) add(ctx context.Context, appendFn func(string, []byte, string) (cd.Entry, error), file string) error {
	logger := internal.MustLogger(ctx)

	fi, err := os.Stat(file)
	if err != nil {
		return err
	}

	name := path.Join(c.Prefix, filepath.Base(file))
	if fi.IsDir() {
		if _, err = appendFn(name+"/", nil, c.Comment); err == nil {
			logger.Printf(`added directory "%s/"`, name)
		}
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	entry, err := appendFn(name, data, c.Comment)
	if err != nil {
		return err
	}

	logger.Printf(`added "%s" (%s, %s compressed with %s)`, name, humanize.Bytes(entry.UncompressedSize64), humanize.Bytes(entry.CompressedSize64), entry.CompressionMethod())
	return nil
}
