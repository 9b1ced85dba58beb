//go:build !windows

package process

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// configureSysProcAttr starts the worker in a new session so it is detached
// from the controlling terminal and leads its own process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// pidAlive returns true if a process with given pid exists (or EPERM).
func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	// A worker that exited but was not reaped yet still answers signal 0.
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false, nil
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, err
	}
}

// Terminate sends SIGTERM (or SIGKILL when force is set) to the worker's
// process group, falling back to the pid alone for workers that do not lead a group.
func (n *Native) Terminate(h Handle, force bool) error {
	if !h.Valid() {
		return nil
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	err := unix.Kill(-h.PID, sig)
	if err != nil {
		err = unix.Kill(h.PID, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err == nil && force {
		n.waitReaped(h.PID, 200*time.Millisecond)
	}
	return err
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
