package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/nguyengg/zappend/internal"
	"github.com/nguyengg/zappend/zipper"
)

type Remove struct {
	global

	Force bool `short:"f" long:"force" description:"do not prompt before deleting each container"`
	Args  struct {
		Archives []string `positional-arg-name:"archive" description:"the containers to delete" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Remove) Execute(args []string) error {
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

	// to prevent accidental deletion, prompt for each container.
	prompt := !c.Force
	reader := bufio.NewReader(os.Stdin)

	success := 0
	n := len(c.Args.Archives)

archiveLoop:
	for i, archive := range c.Args.Archives {
	promptLoop:
		for prompt {
			fmt.Printf("Confirm deletion of \"%s\":\n", archive)
			fmt.Printf("\tY/y: to proceed with deletion\n")
			fmt.Printf("\tN/n: to skip this container\n")
			fmt.Printf("\tF/f: to start deleting without prompt for all remaining containers including this\n")

			line, err := reader.ReadString('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					log.Printf("stdin ended; successfully deleted %d/%d containers", success, n)
					return nil
				}
				return fmt.Errorf("read prompt error: %w", err)
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y":
				break promptLoop
			case "n":
				continue archiveLoop
			case "f":
				prompt = false
			}
		}

		if err = ctx.Err(); err != nil {
			log.Printf("interrupted; successfully deleted %d/%d containers", success, n)
			return nil
		}

		if err = zipper.New(e.fsys, archive, zipper.WithLogger(e.logger)).Remove(); err != nil {
			log.Printf("%serror: %v", internal.Prefix(i+1, n, archive), err)
			continue
		}

		log.Printf("%sdeleted", internal.Prefix(i+1, n, archive))
		success++
	}

	log.Printf("successfully deleted %d/%d containers", success, n)
	return nil
}
