package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/internal/config"
	"github.com/nguyengg/zappend/verify"
)

type Verify struct {
	global

	Records int    `short:"n" long:"records" description:"number of records to write; overrides [verify] records from .zappend" default-mask:"1"`
	Atomic  bool   `long:"atomic" description:"append by staging a copy then renaming it over the container instead of in place"`
	Level   *int   `short:"l" long:"level" description:"compression level from 0 (store) to 9; overrides [archive] level from .zappend" default-mask:"9"`
	Method  string `short:"m" long:"method" description:"compression method; overrides [archive] method from .zappend" choice:"store" choice:"deflate" choice:"zstd" choice:"xz" default-mask:"deflate"`
	Args    struct {
		Archive string `positional-arg-name:"archive" description:"the container to (re)create; overrides [verify] archive from .zappend" default-mask:"test.zip"`
	} `positional-args:"yes"`
}

func (c *Verify) Execute(args []string) error {
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

	level, method, err := e.compression(c.Level, c.Method, codec.BestCompression)
	if err != nil {
		return err
	}

	cfg := config.ForVerify()
	archive := c.Args.Archive
	if archive == "" {
		archive = cfg.Archive
	}
	if archive == "" {
		archive = "test.zip"
	}

	records := c.Records
	if records == 0 {
		records = max(cfg.Records, 1)
	}

	log.Printf(`verifying "%s" with %d records (method=%s, level=%d)`, archive, records, method, level)

	report, err := verify.Run(ctx, e.fsys, archive, func(opts *verify.Options) {
		opts.Records = records
		opts.Level = level
		opts.Method = method
		opts.Atomic = c.Atomic
		opts.Logger = e.logger
	})
	if err != nil {
		log.Printf("interrupted after %d checks", len(report.Checks))
		return err
	}

	passed, failed, mismatched := report.Counts()
	for _, check := range report.Checks {
		if check.Status != verify.Passed {
			log.Printf("%s %s: %v", check.Status, check.Name, check.Err)
		}
	}

	log.Printf(`"%s" has %d entries (%s), fingerprint %s`, archive, report.Entries, humanize.Bytes(uint64(report.Size)), report.Fingerprint)
	log.Printf("%d passed, %d failed, %d mismatched", passed, failed, mismatched)

	return report.Err()
}
