package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zappend/codec"
	"github.com/nguyengg/zappend/internal"
	"github.com/nguyengg/zappend/internal/config"
	"github.com/nguyengg/zappend/storage"
)

// Options are the global options shared by every command.
type Options struct {
	Dir     string `short:"C" long:"dir" description:"directory that container paths are relative to; overrides [storage] base-dir from .zappend" value-name:"DIR"`
	Verbose bool   `short:"v" long:"verbose" description:"enable debug logging of every container operation"`
}

type Zappend struct {
	Options

	Verify Verify `command:"verify" description:"write records to a fresh container then read them back in both orders"`
	List   List   `command:"ls" alias:"list" description:"list entries of containers"`
	Cat    Cat    `command:"cat" description:"extract entries to stdout"`
	Add    Add    `command:"add" alias:"a" description:"append local files to a container"`
	Repair Repair `command:"repair" description:"rebuild the central directory of containers from their local file headers"`
	Remove Remove `command:"remove" alias:"rm" description:"delete containers"`
}

func NewParser() (*flags.Parser, error) {
	opts := &Zappend{}
	for _, c := range []interface{ setGlobal(*Options) }{&opts.Verify, &opts.List, &opts.Cat, &opts.Add, &opts.Repair, &opts.Remove} {
		c.setGlobal(&opts.Options)
	}

	p := flags.NewNamedParser("zappend", flags.Default)
	if _, err := p.AddGroup("Global Options", "", opts); err != nil {
		return nil, err
	}

	return p, nil
}

// global is embedded by every command to have access to the global Options.
type global struct {
	opts *Options
}

func (g *global) setGlobal(opts *Options) {
	g.opts = opts
}

// env is everything a command needs to operate on containers.
type env struct {
	fsys    *storage.Dir
	logger  *slog.Logger
	archive config.ArchiveConfig
}

// setup loads the .zappend file then opens the base directory.
func (g *global) setup(ctx context.Context) (*env, error) {
	if _, err := config.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config error: %w", err)
	}

	dir := "."
	if g.opts != nil && g.opts.Dir != "" {
		dir = g.opts.Dir
	} else if c := config.ForStorage(); c.BaseDir != "" {
		dir = c.BaseDir
	}

	fsys, err := storage.OpenDir(dir)
	if err != nil {
		return nil, err
	}

	return &env{
		fsys:    fsys,
		logger:  internal.NewSlogLogger(os.Stderr, g.opts != nil && g.opts.Verbose),
		archive: config.ForArchive(),
	}, nil
}

func (e *env) Close() error {
	return e.fsys.Close()
}

// compression resolves the compression level and method from flags first, then .zappend, then the given defaults.
func (e *env) compression(level *int, method string, defaultLevel int) (int, codec.Method, error) {
	l := defaultLevel
	switch {
	case level != nil:
		l = *level
	case e.archive.Level != nil:
		l = *e.archive.Level
	}

	m := codec.Deflate
	switch {
	case method != "":
		var ok bool
		if m, ok = codec.ParseMethod(method); !ok {
			return 0, m, fmt.Errorf("unknown compression method %q", method)
		}
	case e.archive.HasMethod:
		m = e.archive.Method
	}

	if l < 0 || l > codec.BestCompression {
		return 0, m, fmt.Errorf("compression level %d is not in range [0, %d]", l, codec.BestCompression)
	}

	return l, m, nil
}
