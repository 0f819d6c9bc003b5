package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bftape/bf"
)

const (
	RuntimeName        = "io.containerd.bf.v1"
	RuntimeVersion     = "v1.3.0"
	InterpreterCommand = "brainfuck"
)

const initPidFile = "bf.pid"

type bfManager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return bfManager{name: name}
}

var (
	_ = shim.Manager(&bfManager{})
)

func (m bfManager) Name() string {
	return m.name
}

// Start launches the long-running shim server and tells containerd where
// to reach it.
func (m bfManager) Start(ctx context.Context, id string, opts shim.StartOpts) (shim.BootstrapParams, error) {
	log.G(ctx).WithField("id", id).Debug("start (manager)")

	cmd, err := m.serverCommand(ctx, opts)
	if err != nil {
		return shim.BootstrapParams{}, err
	}
	addr, sock, err := listen(ctx, id, opts)
	if err != nil {
		return shim.BootstrapParams{}, err
	}
	// the server finds its listener as fd 3
	cmd.ExtraFiles = append(cmd.ExtraFiles, sock)

	if err := startLocked(cmd); err != nil {
		sock.Close()
		if rmErr := shim.RemoveSocket(addr); rmErr != nil {
			log.G(ctx).WithError(rmErr).Warnf("removing socket %s", addr)
		}
		return shim.BootstrapParams{}, fmt.Errorf("starting shim server: %w", err)
	}
	go reap(ctx, cmd)

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("adjusting OOM score of shim server %d: %w", cmd.Process.Pid, err)
	}
	return bootstrapParams(addr), nil
}

func bootstrapParams(addr string) shim.BootstrapParams {
	return shim.BootstrapParams{
		Version:  2,
		Address:  addr,
		Protocol: "ttrpc",
	}
}

// listen opens the task's ttrpc socket and returns it as a file the server
// process can inherit.
func listen(ctx context.Context, id string, opts shim.StartOpts) (string, *os.File, error) {
	addr, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return "", nil, fmt.Errorf("resolving socket address of %s: %w", id, err)
	}
	l, err := shim.NewSocket(addr)
	if err != nil {
		return "", nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	f, err := l.File()
	if err != nil {
		return "", nil, fmt.Errorf("getting file of socket %s: %w", addr, err)
	}
	return addr, f, nil
}

// reap collects the server process once it exits.
func reap(ctx context.Context, cmd *exec.Cmd) {
	var exitErr *exec.ExitError
	if err := cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
		log.G(ctx).WithError(err).Errorf("failed to wait for shim server %d", cmd.Process.Pid)
	}
}

func (m bfManager) serverCommand(ctx context.Context, opts shim.StartOpts) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || bf.Debug() {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return nil, fmt.Errorf("creating shim command: %w", err)
	}
	return cmd, nil
}

// startLocked starts cmd from a locked OS thread so that the child does not
// inherit a thread mid-migration.
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return cmd.Start()
}

// Stop is containerd's last resort cleanup: kill whatever the pid file
// points at.
func (m bfManager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop (manager)")

	path, err := pidFilePath(id)
	if err != nil {
		return shim.StopStatus{}, err
	}
	pid, err := readPidFile(path)
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}
	killInit(ctx, pid)

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: exitCodeSignal + int(syscall.SIGKILL),
	}, nil
}

// killInit sends SIGKILL to pid unless it is already gone.
func killInit(ctx context.Context, pid int) {
	if pid <= 0 {
		return
	}
	// signal 0 only checks that pid exists
	if err := syscall.Kill(pid, 0); err != nil {
		log.G(ctx).WithError(err).Debugf("init process %d already gone", pid)
		return
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		log.G(ctx).WithError(err).Warnf("failed to kill init process %d", pid)
	}
}

func (m bfManager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	log.G(ctx).Debug("info (manager)")
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: RuntimeVersion,
		},
	}, nil
}

// The shim runs inside the task's bundle directory; task bundles are
// siblings named by task id.
func pidFilePath(id string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current working directory: %w", err)
	}
	return filepath.Join(filepath.Dir(cwd), id, initPidFile), nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// If containerd needs to resort to calling the shim's "stop" command to
// clean things up, having the process' pid readable from a file is the
// only way for it to know what init process is associated with the task.
func writePidFile(path string, pid int) error {
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of init process: %w", err)
	}
	// rw-r--r--
	if err := os.Chmod(path, 0o644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
