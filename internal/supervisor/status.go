package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/loykin/hedgectl/internal/tail"
)

// Report is the outcome of Status.
type Report struct {
	Running   bool
	PID       int
	StartedAt time.Time // zero when unknown
	Uptime    time.Duration
	Cmdline   string
	// StaleRemoved is set when Status cleaned up a state file whose worker was gone.
	StaleRemoved bool
}

// Status reports whether the worker runs. It never treats "not running" as
// an error and removes a stale state file as a side effect.
func (s *Supervisor) Status(ctx context.Context) (rep Report, err error) {
	began := s.now()
	defer func() { s.finish("status", began, err) }()

	rec, live, err := s.probe()
	if err != nil {
		return Report{}, err
	}
	switch live {
	case absent:
		s.metrics.SetWorkerUp(s.cfg.Name, false)
		_, _ = fmt.Fprintf(s.out, "%s is not running\n", s.cfg.Name)
		return Report{}, nil
	case stale:
		if err := s.clearStale(ctx, rec); err != nil {
			return Report{}, err
		}
		s.metrics.SetWorkerUp(s.cfg.Name, false)
		_, _ = fmt.Fprintf(s.out, "%s is not running (stale state removed)\n", s.cfg.Name)
		return Report{StaleRemoved: true}, nil
	}

	rep = Report{Running: true, PID: rec.Handle.PID}
	info, derr := s.platform.Describe(rec.Handle)
	if derr != nil {
		s.log.Debug("describe failed", "pid", rec.Handle.PID, "error", derr)
	}
	rep.StartedAt = info.StartedAt
	rep.Cmdline = info.Cmdline
	if rec.Meta != nil {
		if rep.StartedAt.IsZero() {
			rep.StartedAt = rec.Meta.StartedAt
		}
		if rep.Cmdline == "" {
			rep.Cmdline = strings.Join(rec.Meta.Command, " ")
		}
	}
	info.StartedAt = rep.StartedAt
	rep.Uptime = info.Uptime(s.now())

	s.metrics.SetWorkerUp(s.cfg.Name, true)
	s.sampleWorker(rep.PID)

	_, _ = fmt.Fprintf(s.out, "%s is running (pid %d)\n", s.cfg.Name, rep.PID)
	if !rep.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(s.out, "  started: %s (up %s)\n", rep.StartedAt.Local().Format(time.DateTime), rep.Uptime.Truncate(time.Second))
	}
	if rep.Cmdline != "" {
		_, _ = fmt.Fprintf(s.out, "  command: %s\n", rep.Cmdline)
	}
	return rep, nil
}

// Logs prints the last TailLines lines of the worker log.
func (s *Supervisor) Logs(ctx context.Context) (err error) {
	began := s.now()
	defer func() { s.finish("logs", began, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	lines, err := tail.File(s.cfg.LogFile, s.cfg.TailLines)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrLogNotFound, s.cfg.LogFile)
		}
		return fmt.Errorf("read log: %w", err)
	}
	return writeLines(s.out, lines)
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}
