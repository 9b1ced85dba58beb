package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/hedgectl/internal/history"
	"github.com/loykin/hedgectl/internal/process"
	"github.com/loykin/hedgectl/internal/state"
)

// Start launches the worker unless one is already running. A stale state
// file is removed first. The worker must still be alive after the start
// grace period, otherwise it is killed and no state is written.
func (s *Supervisor) Start(ctx context.Context) (h process.Handle, err error) {
	began := s.now()
	defer func() { s.finish("start", began, err) }()

	rec, live, err := s.probe()
	if err != nil {
		return process.Handle{}, err
	}
	switch live {
	case alive:
		return rec.Handle, fmt.Errorf("%s is %w (pid %d)", s.cfg.Name, ErrAlreadyRunning, rec.Handle.PID)
	case stale:
		if err := s.clearStale(ctx, rec); err != nil {
			return process.Handle{}, err
		}
	}

	interp, err := s.resolver.Resolve()
	if err != nil {
		return process.Handle{}, err
	}
	env, err := s.workerEnv()
	if err != nil {
		return process.Handle{}, err
	}
	cmd := s.command(interp)
	cmd.Env = env
	s.log.Debug("launching worker", "argv", cmd.Argv(), "dir", cmd.Dir, "log", cmd.LogFile)

	h, err = s.platform.Spawn(ctx, cmd)
	if err != nil {
		s.emit(ctx, history.EventLaunchFailed, history.Record{Name: s.cfg.Name, ExitErr: err.Error()})
		return process.Handle{}, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	startedAt := s.now()

	if err := sleepCtx(ctx, s.cfg.StartGrace); err != nil {
		s.abandon(h)
		return process.Handle{}, err
	}
	ok, err := s.platform.Alive(h)
	if err != nil || !ok {
		s.abandon(h)
		reason := "exited during start grace period"
		if err != nil {
			reason = err.Error()
		}
		s.emit(ctx, history.EventLaunchFailed, history.Record{Name: s.cfg.Name, PID: h.PID, StartedAt: startedAt, ExitErr: reason})
		s.log.Error("worker did not stay up", "pid", h.PID, "reason", reason)
		return process.Handle{}, fmt.Errorf("%w: pid %d %s, see %s", ErrLaunchFailed, h.PID, reason, s.cfg.LogFile)
	}

	rec = state.Record{Handle: h, Meta: &state.Meta{
		StartUnix: h.StartUnix,
		StartedAt: startedAt,
		Command:   cmd.Argv(),
		Interval:  s.cfg.Interval,
	}}
	if err := s.store.Save(rec); err != nil {
		// an untracked worker could never be stopped by us
		s.abandon(h)
		return process.Handle{}, fmt.Errorf("persist state: %w", err)
	}

	s.log.Info("worker started", "pid", h.PID, "argv", cmd.Argv())
	s.emit(ctx, history.EventStart, s.historyRecord(rec, false, ""))
	s.metrics.SetWorkerUp(s.cfg.Name, true)
	s.sampleWorker(h.PID)

	_, _ = fmt.Fprintf(s.out, "%s started (pid %d)\n", s.cfg.Name, h.PID)
	_, _ = fmt.Fprintf(s.out, "  work dir: %s\n", s.cfg.WorkDir)
	_, _ = fmt.Fprintf(s.out, "  log file: %s\n", s.cfg.LogFile)
	return h, nil
}

// abandon force-kills a worker that will not be tracked.
func (s *Supervisor) abandon(h process.Handle) {
	if err := s.platform.Terminate(h, true); err != nil {
		s.log.Warn("failed to kill abandoned worker", "pid", h.PID, "error", err)
	}
}

// Stop terminates the running worker: a graceful request first, then forced
// termination if it is still alive after StopTimeout. The state file is
// removed once the worker is gone or force has been issued. Stopping when
// nothing runs returns ErrNotRunning; a stale state file is removed.
func (s *Supervisor) Stop(ctx context.Context) (err error) {
	began := s.now()
	defer func() { s.finish("stop", began, err) }()

	rec, live, err := s.probe()
	if err != nil {
		return err
	}
	switch live {
	case absent:
		return fmt.Errorf("%s is %w", s.cfg.Name, ErrNotRunning)
	case stale:
		if err := s.clearStale(ctx, rec); err != nil {
			return err
		}
		s.metrics.SetWorkerUp(s.cfg.Name, false)
		return fmt.Errorf("%s is %w (stale state removed)", s.cfg.Name, ErrNotRunning)
	}

	h := rec.Handle
	_, _ = fmt.Fprintf(s.out, "stopping %s (pid %d)\n", s.cfg.Name, h.PID)
	var gone bool
	if terr := s.platform.Terminate(h, false); terr != nil {
		s.log.Warn("graceful stop request failed", "pid", h.PID, "error", terr)
	} else {
		gone, err = s.waitExit(ctx, h)
		if err != nil {
			// interrupted: the worker may still be running, keep tracking it
			return err
		}
	}

	forced := false
	if !gone {
		s.log.Warn("worker did not exit in time, killing", "pid", h.PID, "timeout", s.cfg.StopTimeout)
		if err := s.platform.Terminate(h, true); err != nil {
			return fmt.Errorf("kill pid %d: %w", h.PID, err)
		}
		forced = true
	}

	if err := s.store.Remove(); err != nil {
		return fmt.Errorf("remove state: %w", err)
	}

	evt, exitErr := history.EventStop, ""
	if forced {
		evt, exitErr = history.EventKill, fmt.Sprintf("killed after %s", s.cfg.StopTimeout)
	}
	s.emit(ctx, evt, s.historyRecord(rec, true, exitErr))
	s.metrics.SetForcedStop(s.cfg.Name, forced)
	s.metrics.SetWorkerUp(s.cfg.Name, false)
	s.metrics.ClearWorker(s.cfg.Name)
	s.log.Info("worker stopped", "pid", h.PID, "forced", forced, "took", s.now().Sub(began))

	if forced {
		_, _ = fmt.Fprintf(s.out, "%s killed (did not exit within %s)\n", s.cfg.Name, s.cfg.StopTimeout)
	} else {
		_, _ = fmt.Fprintf(s.out, "%s stopped\n", s.cfg.Name)
	}
	return nil
}

// waitExit polls liveness every PollInterval until the worker is gone or
// StopTimeout has been spent waiting. Probe errors count as still alive.
func (s *Supervisor) waitExit(ctx context.Context, h process.Handle) (bool, error) {
	polls := int(s.cfg.StopTimeout / s.cfg.PollInterval)
	if polls < 1 {
		polls = 1
	}
	for i := 0; ; i++ {
		ok, err := s.platform.Alive(h)
		if err != nil {
			s.log.Warn("liveness probe failed while stopping", "pid", h.PID, "error", err)
		} else if !ok {
			return true, nil
		}
		if i == polls {
			return false, nil
		}
		if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

// Restart stops the worker if it runs, pauses for RestartPause and starts it
// again. Its result is the result of the start.
func (s *Supervisor) Restart(ctx context.Context) (h process.Handle, err error) {
	began := s.now()
	defer func() { s.finish("restart", began, err) }()

	if err := s.Stop(ctx); err != nil {
		if !errors.Is(err, ErrNotRunning) {
			return process.Handle{}, err
		}
		_, _ = fmt.Fprintf(s.out, "%s was not running\n", s.cfg.Name)
	}
	if err := sleepCtx(ctx, s.cfg.RestartPause); err != nil {
		return process.Handle{}, err
	}
	return s.Start(ctx)
}
