package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/nguyengg/zappend/z"
)

type Cat struct {
	global

	Args struct {
		Archive string   `positional-arg-name:"archive" description:"the container to extract from" required:"yes"`
		Names   []string `positional-arg-name:"name" description:"the entries to write to stdout in the given order" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Cat) Execute(args []string) error {
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

	r, err := z.Open(e.fsys, c.Args.Archive, z.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer r.Close()

	for _, name := range c.Args.Names {
		if err = ctx.Err(); err != nil {
			return err
		}

		data, err := r.Extract(name)
		if err != nil {
			return err
		}

		if _, err = os.Stdout.Write(data); err != nil {
			return fmt.Errorf("write to stdout error: %w", err)
		}
	}

	return nil
}
