// Package cli is the command line front end shared by the standalone
// interpreter and the shim's `brainfuck` sub-command.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bftape/bf"
)

type Options struct {
	File   string
	Size   int
	Strict bool
	Debug  bool
}

func ParseFlags(name string, args []string, stderr io.Writer) (*Options, error) {
	opts := &Options{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.File, "file", "", "brainfuck source file")
	fs.IntVar(&opts.Size, "size", bf.DefaultMemorySize, "number of cells on the tape")
	fs.BoolVar(&opts.Strict, "strict", false, "reject any character that is not a command")
	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.File == "" {
		return nil, fmt.Errorf("invalid argument: -file is required")
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid argument: -size must be positive, got %d", opts.Size)
	}
	return opts, nil
}

// Load reads the source file, stripping non-command characters unless
// strict mode is on.
func (o *Options) Load() (string, error) {
	data, err := os.ReadFile(o.File)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", o.File, err)
	}
	source := string(data)
	if !o.Strict {
		source = bf.Strip(source)
	}
	return source, nil
}

// Main runs the interpreter and returns the process exit code, see
// bf.ExitCode.
func Main(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := ParseFlags(name, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	if opts.Debug || bf.Debug() {
		if err := log.SetLevel("debug"); err != nil {
			fmt.Fprintln(stderr, "Error:", err)
		}
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("file", opts.File))

	source, err := opts.Load()
	if err != nil {
		log.G(ctx).WithError(err).Error("loading program")
		return 1
	}

	result, err := bf.RunContext(ctx, source, opts.Size, stdin, stdout)
	if err != nil {
		log.G(ctx).WithError(err).Error("program failed")
		return bf.ExitCode(err)
	}
	log.G(ctx).Debugf("program halted with data pointer at %d", result.DataPtr)
	return 0
}
