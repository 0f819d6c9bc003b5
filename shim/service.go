package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/MarcinKonowalczyk/bftape/bf"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// The process is created suspended so that containerd can wire up stdio
// and call Start when it is ready.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const startStoppedFilename = "start-stopped.sh"

const commandWaitDelay = 100 * time.Millisecond

type bfTaskService struct {
	mu       sync.RWMutex
	procs    map[string]*proc
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &bfTaskService{
		procs:    make(map[string]*proc, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&bfTaskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *bfTaskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

// get must be called with s.mu held.
func (s *bfTaskService) get(id string) (*proc, error) {
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return p, nil
}

func (s *bfTaskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return p.done, nil
}

// watch waits for the interpreter process to exit and records how it went.
func (s *bfTaskService) watch(ctx context.Context, id string, cmd *exec.Cmd, pio *stdio, markDone context.CancelFunc) {
	pid := cmd.Process.Pid
	status, err := waitExit(cmd)
	if err != nil {
		log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
	}
	if err := pio.Close(); err != nil {
		log.G(ctx).WithError(err).Debug("closing task stdio")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[id]
	if !ok {
		log.G(ctx).Errorf("failed to record exit of init process %d: task %s was removed", pid, id)
		markDone()
		return
	}
	p.exitStatus = status
	p.exitTime = time.Now()
	markDone()

	log.G(ctx).WithFields(log.Fields{
		"id":         id,
		"entrypoint": p.entrypoint,
		"status":     status,
	}).Infof("program exited: %s", describeExit(status))
}

// Create compiles the bundle's program and spawns a suspended interpreter
// for it.
func (s *bfTaskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[r.ID]; ok {
		return nil, fmt.Errorf("task %s: %w", r.ID, errdefs.ErrAlreadyExists)
	}

	bundle, err := LoadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("loading bundle: %w", err)
	}
	log.G(ctx).WithFields(log.Fields{
		"entrypoint": bundle.Entrypoint,
		"commands":   len(bundle.Program.Commands),
		"loops":      bundle.Program.Brackets.Len(),
		"cells":      bundle.MemorySize,
	}).Debug("program compiled")

	script := filepath.Join(r.Bundle, startStoppedFilename)
	if err := os.WriteFile(script, []byte(startStoppedScript), 0o755); err != nil {
		return nil, fmt.Errorf("writing %s: %w", startStoppedFilename, err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	// not CommandContext: the process outlives this request
	cmd := exec.Command("/bin/sh", append([]string{script}, bundle.Args(self, debugEnabled())...)...)
	cmd.Env = bundle.Env
	cmd.WaitDelay = commandWaitDelay

	pio, err := attachStdio(context.WithoutCancel(ctx), cmd, r.Stdin, r.Stdout, r.Stderr)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		pio.Close()
		return nil, fmt.Errorf("running init command: %w", err)
	}
	pid := cmd.Process.Pid

	if path, err := pidFilePath(r.ID); err != nil {
		log.G(ctx).WithError(err).Warn("locating pid file")
	} else if err := writePidFile(path, pid); err != nil {
		log.G(ctx).WithError(err).Warn("writing pid file")
	}

	done, markDone := context.WithCancel(context.Background())
	s.procs[r.ID] = &proc{
		pid:        pid,
		entrypoint: bundle.Entrypoint,
		done:       done,
		stdin:      r.Stdin,
		stdout:     r.Stdout,
		stderr:     r.Stderr,
	}
	go s.watch(context.WithoutCancel(ctx), r.ID, cmd, pio, markDone)

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start resumes the suspended interpreter
func (s *bfTaskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if p.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d already exited", p.pid))
	}

	if err := syscall.Kill(p.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("resuming init process %d: %w", p.pid, err)
	}
	p.started = true

	return &taskAPI.StartResponse{
		Pid: uint32(p.pid),
	}, nil
}

// Delete a process or container
func (s *bfTaskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if !p.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", p.pid))
	}
	delete(s.procs, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(p.pid),
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *bfTaskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *bfTaskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *bfTaskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(p.pid),
		Status:     taskStatus(p),
		Stdin:      p.stdin,
		Stdout:     p.stdout,
		Stderr:     p.stderr,
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

func taskStatus(p *proc) tasktypes.Status {
	switch {
	case p.exited():
		return tasktypes.Status_STOPPED
	case !p.started:
		return tasktypes.Status_CREATED
	default:
		return tasktypes.Status_RUNNING
	}
}

// Pause the container
func (s *bfTaskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *bfTaskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill signals the interpreter. A task that was never started is resumed as
// well, or a stopped process would sit on the signal.
func (s *bfTaskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithFields(log.Fields{"id": r.ID, "signal": r.Signal}).Debug("kill (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if p.exited() {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	sig := syscall.Signal(r.Signal)
	if sig == 0 {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(p.pid, sig); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to send %s to init process %d", sig, p.pid)
		return nil, fmt.Errorf("sending %s to init process: %w", sig, err)
	}
	if !p.started && sig != syscall.SIGKILL {
		if err := syscall.Kill(p.pid, syscall.SIGCONT); err != nil {
			log.G(ctx).WithError(err).Warnf("failed to resume init process %d", p.pid)
		}
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *bfTaskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pids (task)")
}

// CloseIO of a process
func (s *bfTaskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *bfTaskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *bfTaskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(p.pid),
	}, nil
}

// Shutdown stops the shim once no tasks are left.
func (s *bfTaskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")

	s.mu.RLock()
	remaining := len(s.procs)
	s.mu.RUnlock()
	if remaining > 0 {
		log.G(ctx).Debugf("not shutting down: %d tasks left", remaining)
		return &ptypes.Empty{}, nil
	}

	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *bfTaskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *bfTaskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *bfTaskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.get(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// The interpreter logs at debug level when the shim itself does.
func debugEnabled() bool {
	return bf.Debug() || log.GetLevel() >= log.DebugLevel
}
