// Package supervisor manages the lifecycle of one detached worker process:
// start with a duplicate-run guard, graceful stop with forced escalation,
// liveness status, log tail and restart. The state file is the only record
// shared between invocations.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loykin/hedgectl/internal/history"
	"github.com/loykin/hedgectl/internal/metrics"
	"github.com/loykin/hedgectl/internal/process"
	"github.com/loykin/hedgectl/internal/state"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrLaunchFailed   = errors.New("worker failed to start")
	ErrLogNotFound    = errors.New("log file not found")
)

// Default timings used when the corresponding Config field is zero.
const (
	DefaultInterval     = 15
	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = time.Second
	DefaultStartGrace   = time.Second
	DefaultRestartPause = 2 * time.Second
	DefaultTailLines    = 20
)

const sinkTimeout = 5 * time.Second

type Config struct {
	Name      string
	StateFile string
	LogFile   string
	WorkDir   string
	Script    string   // relative to WorkDir unless absolute
	Args      []string // passed before the interval
	Interval  int      // minutes, the worker's last argument
	Env       []string // full worker environment; empty inherits ours, see WithEnvironment

	StopTimeout  time.Duration
	PollInterval time.Duration
	StartGrace   time.Duration
	RestartPause time.Duration
	TailLines    int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartGrace < 0 {
		c.StartGrace = DefaultStartGrace
	}
	if c.RestartPause < 0 {
		c.RestartPause = DefaultRestartPause
	}
	if c.TailLines <= 0 {
		c.TailLines = DefaultTailLines
	}
	return c
}

// Resolver finds the interpreter that runs the worker script. An empty path
// with a nil error means the script is executed directly.
type Resolver interface {
	Resolve() (string, error)
}

type Supervisor struct {
	cfg      Config
	platform process.Platform
	resolver Resolver
	store    *state.Store

	envFn   func() ([]string, error)
	sink    history.Sink
	metrics *metrics.Recorder
	log     *slog.Logger
	out     io.Writer
	now     func() time.Time
}

type Option func(*Supervisor)

// WithHistory sends lifecycle events to sink.
func WithHistory(sink history.Sink) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithEnvironment builds the worker environment when Start launches it,
// replacing Config.Env. Other operations never call fn.
func WithEnvironment(fn func() ([]string, error)) Option {
	return func(s *Supervisor) { s.envFn = fn }
}

func WithMetrics(r *metrics.Recorder) Option { return func(s *Supervisor) { s.metrics = r } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOutput sets where user-facing messages are printed.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		if w != nil {
			s.out = w
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Supervisor. StartGrace and RestartPause may be zero; the other
// durations and counts fall back to their defaults when unset.
func New(cfg Config, platform process.Platform, resolver Resolver, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:      cfg,
		platform: platform,
		resolver: resolver,
		store:    state.NewStore(cfg.StateFile),
		sink:     history.Nop{},
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:      io.Discard,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("worker", cfg.Name)
	return s
}

func (s *Supervisor) Config() Config { return s.cfg }

type liveness int

const (
	absent liveness = iota
	alive
	stale
)

// probe reads the state file and checks whether it names a live worker.
// A corrupt state file is reported as stale.
func (s *Supervisor) probe() (state.Record, liveness, error) {
	rec, err := s.store.Load()
	switch {
	case errors.Is(err, state.ErrNoState):
		return state.Record{}, absent, nil
	case errors.Is(err, state.ErrCorrupt):
		s.log.Warn("unreadable state file", "path", s.store.Path(), "error", err)
		return state.Record{}, stale, nil
	case err != nil:
		return state.Record{}, absent, fmt.Errorf("read state: %w", err)
	}
	ok, err := s.platform.Alive(rec.Handle)
	if err != nil {
		return rec, absent, fmt.Errorf("check pid %d: %w", rec.Handle.PID, err)
	}
	if ok {
		return rec, alive, nil
	}
	return rec, stale, nil
}

// clearStale removes a state file whose worker is gone.
func (s *Supervisor) clearStale(ctx context.Context, rec state.Record) error {
	if err := s.store.Remove(); err != nil {
		return fmt.Errorf("remove stale state: %w", err)
	}
	s.log.Info("removed stale state file", "path", s.store.Path(), "pid", rec.Handle.PID)
	s.metrics.SetStaleCleanup(s.cfg.Name, true)
	s.emit(ctx, history.EventStale, s.historyRecord(rec, true, ""))
	return nil
}

func (s *Supervisor) historyRecord(rec state.Record, stopped bool, exitErr string) history.Record {
	hr := history.Record{Name: s.cfg.Name, PID: rec.Handle.PID, ExitErr: exitErr}
	if rec.Meta != nil {
		hr.StartedAt = rec.Meta.StartedAt
	} else if rec.Handle.StartUnix > 0 {
		hr.StartedAt = time.Unix(rec.Handle.StartUnix, 0)
	}
	if stopped {
		t := s.now()
		hr.StoppedAt = &t
	}
	return hr
}

// emit sends an event; sink failures are logged and never fail the operation.
func (s *Supervisor) emit(ctx context.Context, typ history.EventType, rec history.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	e := history.Event{Type: typ, OccurredAt: s.now(), Record: rec}
	if err := s.sink.Send(ctx, e); err != nil {
		s.log.Warn("history sink failed", "event", string(typ), "error", err)
	}
}

// finish records the outcome of op and flushes metrics.
func (s *Supervisor) finish(op string, began time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(s.cfg.Name, op, resultLabel(err), s.now().Sub(began))
	if ferr := s.metrics.Flush(); ferr != nil {
		s.log.Warn("metrics flush failed", "error", ferr)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrNotRunning):
		return "not_running"
	case errors.Is(err, ErrLaunchFailed):
		return "launch_failed"
	case errors.Is(err, ErrLogNotFound):
		return "log_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

func (s *Supervisor) sampleWorker(pid int) {
	if s.metrics == nil {
		return
	}
	if sample, err := metrics.ReadWorker(pid); err == nil {
		s.metrics.ObserveWorker(s.cfg.Name, sample)
	}
}

func (s *Supervisor) scriptPath() string {
	if filepath.IsAbs(s.cfg.Script) || s.cfg.WorkDir == "" {
		return s.cfg.Script
	}
	return filepath.Join(s.cfg.WorkDir, s.cfg.Script)
}

func (s *Supervisor) workerEnv() ([]string, error) {
	if s.envFn == nil {
		return s.cfg.Env, nil
	}
	env, err := s.envFn()
	if err != nil {
		return nil, fmt.Errorf("worker environment: %w", err)
	}
	return env, nil
}

// command builds the launch command for interpreter, which may be empty.
func (s *Supervisor) command(interpreter string) process.Command {
	args := make([]string, 0, len(s.cfg.Args)+2)
	path := s.scriptPath()
	if interpreter != "" {
		args = append(args, path)
		path = interpreter
	}
	args = append(args, s.cfg.Args...)
	args = append(args, strconv.Itoa(s.cfg.Interval))
	return process.Command{
		Path:    path,
		Args:    args,
		Dir:     s.cfg.WorkDir,
		Env:     s.cfg.Env,
		LogFile: s.cfg.LogFile,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
