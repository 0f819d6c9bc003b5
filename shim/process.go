package shim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/MarcinKonowalczyk/bftape/bf"
)

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128

// reported when the wait gives us nothing better
const exitCodeUnknown = 255

// proc is one task: a suspended interpreter process until Start, then a
// running one until it exits and done is cancelled.
type proc struct {
	pid        int
	entrypoint string
	started    bool

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string
}

func (p *proc) exited() bool {
	return p.done.Err() != nil
}

func (p *proc) String() string {
	if p.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d (%s)", p.pid, p.exitTime.Format(time.RFC3339), p.exitStatus, describeExit(p.exitStatus))
	}
	if !p.started {
		return fmt.Sprintf("pid:%d created", p.pid)
	}
	return fmt.Sprintf("pid:%d running", p.pid)
}

// exitStatusOf turns a finished process state into a shell-style exit
// status.
func exitStatusOf(state *os.ProcessState) int {
	if state == nil {
		return exitCodeUnknown
	}
	if state.Exited() {
		return state.ExitCode()
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return exitCodeUnknown
}

// describeExit names the reason behind an interpreter exit status.
func describeExit(status int) string {
	switch {
	case status == 0:
		return "halted"
	case status == 1:
		return "usage or io error"
	case status > exitCodeSignal && status < exitCodeUnknown:
		return fmt.Sprintf("killed by %s", syscall.Signal(status-exitCodeSignal))
	}
	if kind, ok := bf.KindFromExitCode(status); ok {
		return kind.String()
	}
	return "unknown"
}

// waitExit blocks until cmd exits and returns its exit status.
func waitExit(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if _, ok := err.(*exec.ExitError); ok {
		err = nil
	}
	return exitStatusOf(cmd.ProcessState), err
}
