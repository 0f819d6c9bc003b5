package shim

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/MarcinKonowalczyk/bftape/utils"
)

// enterBundle moves into a fresh bundle directory with a sibling bundle for
// task id, the way containerd lays them out.
func enterBundle(t *testing.T, id string) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"shim", id} {
		if err := os.Mkdir(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(filepath.Join(root, "shim"))
	return filepath.Join(root, id)
}

func TestPidFile_RoundTrip(t *testing.T) {
	dir := enterBundle(t, "task")

	path, err := pidFilePath("task")
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, writePidFile(path, 4242))

	// written into the sibling bundle, not our own
	pid, err := readPidFile(filepath.Join(dir, initPidFile))
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, pid, 4242)

	info, err := os.Stat(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, info.Mode().Perm(), os.FileMode(0o644))
}

func TestReadPidFile_TrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), initPidFile)
	if err := os.WriteFile(path, []byte("17\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, err := readPidFile(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, pid, 17)
}

func TestReadPidFile_Missing(t *testing.T) {
	_, err := readPidFile(filepath.Join(t.TempDir(), initPidFile))
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestManager_StopKillsInit(t *testing.T) {
	dir := enterBundle(t, "task")

	cmd := exec.Command("/bin/sh", "-c", "sleep 10")
	utils.AssertNoError(t, cmd.Start())
	utils.AssertNoError(t, writePidFile(filepath.Join(dir, initPidFile), cmd.Process.Pid))

	status, err := NewManager(RuntimeName).Stop(context.Background(), "task")
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, status.Pid, cmd.Process.Pid)
	utils.AssertEqual(t, status.ExitStatus, exitCodeSignal+int(syscall.SIGKILL))

	exit, err := waitExit(cmd)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, exit, exitCodeSignal+int(syscall.SIGKILL))
}

func TestManager_StopWithoutPidFile(t *testing.T) {
	enterBundle(t, "task")
	_, err := NewManager(RuntimeName).Stop(context.Background(), "task")
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestKillInit_NoPid(t *testing.T) {
	// 0 and -1 would signal our own process group
	killInit(context.Background(), 0)
	killInit(context.Background(), -1)
}

func TestManager_Info(t *testing.T) {
	m := NewManager(RuntimeName)
	utils.AssertEqual(t, m.Name(), RuntimeName)
	info, err := m.Info(context.Background(), nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, info.Name, RuntimeName)
	utils.AssertEqual(t, info.Version.Version, RuntimeVersion)
}

func TestBootstrapParams(t *testing.T) {
	params := bootstrapParams("unix:///run/bf.sock")
	utils.AssertEqual(t, params.Version, 2)
	utils.AssertEqual(t, params.Address, "unix:///run/bf.sock")
	utils.AssertEqual(t, params.Protocol, "ttrpc")
}
