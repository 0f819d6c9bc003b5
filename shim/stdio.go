package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/containerd/log"
)

// stdio holds the task's fifos while the program runs.
type stdio struct {
	closers []io.Closer
}

func (s *stdio) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo", path)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// attachStdio connects the fifos containerd hands us to the command. An
// empty path leaves that stream unconnected; stderr falls back to stdout.
// Must be called before cmd.Start.
//
// The output fifos are handed to exec as plain writers so that cmd.Wait
// returns only after everything the program wrote has been copied out.
func attachStdio(ctx context.Context, cmd *exec.Cmd, stdin, stdout, stderr string) (_ *stdio, retErr error) {
	s := &stdio{}
	defer func() {
		if retErr != nil {
			s.Close()
		}
	}()

	if stdout != "" {
		fw, err := openFifo(ctx, stdout, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, fw)
		cmd.Stdout = fw
	}

	switch {
	case stderr == "" || stderr == stdout:
		if cmd.Stdout != nil {
			cmd.Stderr = cmd.Stdout
		}
	default:
		fe, err := openFifo(ctx, stderr, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, fe)
		cmd.Stderr = fe
	}

	if stdin != "" {
		fr, err := openFifo(ctx, stdin, syscall.O_RDONLY)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, fr)
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdin pipe: %w", err)
		}
		go func() {
			copyStream(ctx, "stdin", pipe, fr)
			// the program sees EOF once the fifo is drained
			pipe.Close()
		}()
	}

	return s, nil
}

// isClosed reports whether err comes from one side of a copy being closed
// underneath it, which is how every copy ends once the task exits.
func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}

func copyStream(ctx context.Context, name string, dst io.Writer, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil && !isClosed(err) {
		log.G(ctx).WithError(err).Debugf("copying %s", name)
	}
}
