package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zappend/internal"
	"github.com/nguyengg/zappend/zipper"
)

type Repair struct {
	global

	SkipVerify bool `long:"skip-verify" description:"do not decompress every payload to check its CRC-32; only local file headers are read"`
	Args       struct {
		Archives []string `positional-arg-name:"archive" description:"the containers to repair" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Repair) Execute(args []string) error {
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

	success, n := 0, len(c.Args.Archives)
	for i, archive := range c.Args.Archives {
		if err = ctx.Err(); err != nil {
			log.Printf("interrupted; successfully repaired %d/%d containers", success, n)
			return nil
		}

		ctx := internal.WithPrefixLogger(ctx, internal.Prefix(i+1, n, archive))
		if err = c.repair(ctx, e, archive); err != nil {
			internal.MustLogger(ctx).Printf("error: %v", err)
			continue
		}

		success++
	}

	log.Printf("successfully repaired %d/%d containers", success, n)
	if success != n {
		return fmt.Errorf("failed to repair %d/%d containers", n-success, n)
	}

	return nil
}

func (c *Repair) repair(ctx context.Context, e *env, archive string) error {
	logger := internal.MustLogger(ctx)

	bar := internal.DefaultBytes(-1, "scanning")
	res, err := zipper.New(e.fsys, archive, zipper.WithLogger(e.logger), func(opts *zipper.Options) {
		opts.SkipVerify = c.SkipVerify
		opts.Progress = zipper.NewProgressBarReporter(bar)
	}).Rebuild()
	_ = bar.Close()
	if err != nil {
		return err
	}

	if res.Cause != nil {
		logger.Printf("dropped %s after the last good entry: %v", humanize.Bytes(uint64(res.Discarded)), res.Cause)
	}

	logger.Printf("recovered %d entries, new size %s", len(res.Entries), humanize.Bytes(uint64(res.Size)))
	return nil
}
