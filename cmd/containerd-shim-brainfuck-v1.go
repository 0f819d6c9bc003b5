package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/MarcinKonowalczyk/bftape/cli"
	bf_shim "github.com/MarcinKonowalczyk/bftape/shim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The shim re-executes itself with the `brainfuck` sub-command to run
	// the task's program.
	if args, ok := brainfuckArgs(os.Args[1:]); ok {
		code := cli.Main(ctx, bf_shim.InterpreterCommand, args, os.Stdin, os.Stdout, os.Stderr)
		cancel()
		os.Exit(code)
	}

	shim.Run(ctx, bf_shim.NewManager(bf_shim.RuntimeName))
}

func brainfuckArgs(args []string) ([]string, bool) {
	for i, arg := range args {
		if arg == bf_shim.InterpreterCommand {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return append(rest, args[i+1:]...), true
		}
	}
	return args, false
}
