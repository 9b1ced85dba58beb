package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Handle identifies a spawned worker.
// StartUnix is the OS start time of the process in Unix seconds (0 when unknown)
// and is used to tell a live worker from an unrelated process that reused its pid.
type Handle struct {
	PID       int
	StartUnix int64
}

func (h Handle) Valid() bool    { return h.PID > 0 }
func (h Handle) String() string { return strconv.Itoa(h.PID) }

// Command describes how to launch a worker.
type Command struct {
	Path    string   // executable or interpreter
	Args    []string // arguments after Path
	Dir     string   // working directory
	Env     []string // full environment in K=V form; empty inherits the caller's
	LogFile string   // combined stdout/stderr sink, opened in append mode
}

// Argv returns Path followed by Args.
func (c Command) Argv() []string {
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Path)
	return append(out, c.Args...)
}

// Info is a best-effort description of a running worker.
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Cmdline   string    `json:"cmdline"`
}

// Uptime returns the elapsed runtime at now, or 0 when the start time is unknown.
func (i Info) Uptime(now time.Time) time.Duration {
	if i.StartedAt.IsZero() || now.Before(i.StartedAt) {
		return 0
	}
	return now.Sub(i.StartedAt)
}

// Platform is the OS capability the supervisor is written against.
type Platform interface {
	// Spawn launches c as a detached unit and returns its handle.
	Spawn(ctx context.Context, c Command) (Handle, error)
	// Alive reports whether h still refers to a running worker.
	Alive(h Handle) (bool, error)
	// Terminate requests graceful termination, or forces it when force is set.
	// Terminating a unit that is already gone is not an error.
	Terminate(h Handle, force bool) error
	// Describe returns runtime details about h.
	Describe(h Handle) (Info, error)
}

var ErrEmptyCommand = errors.New("empty command path")

// Native implements Platform with the host operating system.
// Children spawned through a Native are reaped in the background so a worker
// that exits while the supervisor is still running does not linger as a zombie.
type Native struct {
	mu       sync.Mutex
	children map[int]chan struct{}
}

func NewNative() *Native { return &Native{children: make(map[int]chan struct{})} }

var _ Platform = (*Native)(nil)

func (n *Native) Spawn(ctx context.Context, c Command) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if c.Path == "" {
		return Handle{}, ErrEmptyCommand
	}
	logf, err := openLog(c.LogFile)
	if err != nil {
		return Handle{}, err
	}
	// The worker must outlive this invocation, so ctx is not bound to the command.
	// #nosec G204
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	cmd.Stdout = logf
	cmd.Stderr = logf
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		_ = logf.Close()
		return Handle{}, fmt.Errorf("spawn %s: %w", c.Path, err)
	}
	// The child holds its own descriptor.
	_ = logf.Close()

	pid := cmd.Process.Pid
	n.track(pid, cmd)
	return Handle{PID: pid, StartUnix: getProcStartUnix(pid)}, nil
}

func (n *Native) Alive(h Handle) (bool, error) {
	if !h.Valid() {
		return false, nil
	}
	if n.reaped(h.PID) {
		return false, nil
	}
	alive, err := pidAlive(h.PID)
	if err != nil || !alive {
		return false, err
	}
	if h.StartUnix > 0 {
		if cur := getProcStartUnix(h.PID); cur > 0 && cur != h.StartUnix {
			return false, nil // pid reused; not our worker
		}
	}
	return true, nil
}

func (n *Native) Describe(h Handle) (Info, error) {
	info := Info{PID: h.PID}
	p, err := gopsproc.NewProcess(int32(h.PID))
	if err != nil {
		return info, err
	}
	if ms, err := p.CreateTime(); err == nil && ms > 0 {
		info.StartedAt = time.UnixMilli(ms)
	} else if h.StartUnix > 0 {
		info.StartedAt = time.Unix(h.StartUnix, 0)
	}
	if cl, err := p.Cmdline(); err == nil {
		info.Cmdline = cl
	}
	return info, nil
}

func (n *Native) track(pid int, cmd *exec.Cmd) {
	done := make(chan struct{})
	n.mu.Lock()
	if n.children == nil {
		n.children = make(map[int]chan struct{})
	}
	n.children[pid] = done
	n.mu.Unlock()
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
}

// reaped reports whether pid is a child of this Native that has already exited.
func (n *Native) reaped(pid int) bool {
	n.mu.Lock()
	done, ok := n.children[pid]
	n.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// waitReaped blocks until a tracked child exits or d elapses.
// It returns true when pid is known to be gone.
func (n *Native) waitReaped(pid int, d time.Duration) bool {
	n.mu.Lock()
	done, ok := n.children[pid]
	n.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G302 G304
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
