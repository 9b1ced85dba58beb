//go:build windows

package process

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// exit code reported by GetExitCodeProcess while a process runs
const stillActive = 259

// configureSysProcAttr detaches the worker from the supervisor's console and
// places it in its own process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}

func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
			return false, nil
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return true, nil
		}
		return false, err
	}
	defer func() { _ = windows.CloseHandle(h) }()
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, err
	}
	return code == stillActive, nil
}

// Terminate asks the worker tree to close via taskkill, or calls
// TerminateProcess when force is set.
func (n *Native) Terminate(h Handle, force bool) error {
	if !h.Valid() {
		return nil
	}
	if !force {
		// #nosec G204
		cmd := exec.Command("taskkill", "/PID", strconv.Itoa(h.PID), "/T")
		cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
		if err := cmd.Run(); err != nil {
			if alive, _ := pidAlive(h.PID); !alive {
				return nil
			}
			return err
		}
		return nil
	}
	ph, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(h.PID))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil
		}
		return err
	}
	defer func() { _ = windows.CloseHandle(ph) }()
	if err := windows.TerminateProcess(ph, 1); err != nil {
		return err
	}
	n.waitReaped(h.PID, 200*time.Millisecond)
	return nil
}
