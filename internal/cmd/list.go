package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zappend/internal"
	"github.com/nguyengg/zappend/z"
)

type List struct {
	global

	SkipSort bool `short:"U" long:"skip-sort" description:"list entries in central directory order instead of by name"`
	Args     struct {
		Archives []string `positional-arg-name:"archive" description:"the containers to list" required:"yes"`
	} `positional-args:"yes"`
}

func (c *List) Execute(args []string) error {
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
			log.Printf("interrupted; successfully listed %d/%d containers", success, n)
			return nil
		}

		if err = c.list(e, archive); err != nil {
			log.Printf("%serror: %v", internal.Prefix(i+1, n, archive), err)
			continue
		}

		success++
	}

	if success != n {
		return fmt.Errorf("failed to list %d/%d containers", n-success, n)
	}

	return nil
}

func (c *List) list(e *env, archive string) error {
	r, err := z.Open(e.fsys, archive, func(opts *z.Options) {
		opts.SkipSort = c.SkipSort
		opts.Logger = e.logger
	})
	if err != nil {
		return err
	}
	defer r.Close()

	var size uint64
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, entry := range r.Entries() {
		size += entry.UncompressedSize64

		line := fmt.Sprintf("%s\t%s\t%s\t %s", humanize.Bytes(entry.UncompressedSize64), entry.CompressionMethod(), entry.Modified.Format("2006-01-02 15:04"), entry.Name)
		if entry.Comment != "" {
			line += fmt.Sprintf(" (%s)", entry.Comment)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_ = w.Flush()

	fmt.Printf("%s: %d entries, %s uncompressed\n", archive, r.EntryCount(), humanize.Bytes(size))
	return nil
}
