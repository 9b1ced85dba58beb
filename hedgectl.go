// Package hedgectl supervises a single detached worker process, by default
// the Hedge Scheduler fetcher script. It wires configuration, logging,
// history sinks and metrics around internal/supervisor.
package hedgectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/hedgectl/internal/config"
	"github.com/loykin/hedgectl/internal/env"
	"github.com/loykin/hedgectl/internal/history"
	"github.com/loykin/hedgectl/internal/history/factory"
	"github.com/loykin/hedgectl/internal/interpreter"
	"github.com/loykin/hedgectl/internal/logger"
	"github.com/loykin/hedgectl/internal/metrics"
	"github.com/loykin/hedgectl/internal/process"
	"github.com/loykin/hedgectl/internal/supervisor"
)

// Re-export core types for callers outside this module.

type Config = config.Config

type Report = supervisor.Report

type Handle = process.Handle

var (
	ErrAlreadyRunning      = supervisor.ErrAlreadyRunning
	ErrNotRunning          = supervisor.ErrNotRunning
	ErrLaunchFailed        = supervisor.ErrLaunchFailed
	ErrLogNotFound         = supervisor.ErrLogNotFound
	ErrInterpreterNotFound = interpreter.ErrNotFound
)

// LoadConfig reads configuration from path, or from hedgectl.toml in the
// current directory when path is empty.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Supervisor is the public facade over internal/supervisor.
type Supervisor struct {
	inner   *supervisor.Supervisor
	log     *slog.Logger
	closers []io.Closer
}

// Open builds a Supervisor from cfg. Console diagnostics go to console and
// command output to out. Close releases the log file and history sink.
func Open(cfg *Config, console, out io.Writer) (*Supervisor, error) {
	log, logCloser, err := logger.New(loggerConfig(cfg), console)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{log: log, closers: []io.Closer{logCloser}}

	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		// history is optional; a broken sink must not block operations
		log.Warn("history sink disabled", "error", err)
		sink = history.Nop{}
	}
	s.closers = append(s.closers, closerFunc(func() error { return history.Close(sink) }))

	resolver := interpreter.Resolver{
		WorkDir:  cfg.WorkDir,
		Explicit: cfg.Worker.Interpreter,
		VenvDirs: cfg.Worker.VenvDirs,
		Names:    cfg.Worker.Interpreters,
	}
	var rec *metrics.Recorder
	if cfg.Metrics.Textfile != "" {
		rec = metrics.New(cfg.Metrics.Textfile)
	}

	s.inner = supervisor.New(supervisor.Config{
		Name:         cfg.Worker.Name,
		StateFile:    cfg.StateFile,
		LogFile:      cfg.LogFile,
		WorkDir:      cfg.WorkDir,
		Script:       cfg.Worker.Script,
		Args:         cfg.Worker.Args,
		Interval:     cfg.Interval,
		StopTimeout:  cfg.StopTimeout,
		PollInterval: cfg.PollInterval,
		StartGrace:   cfg.StartGrace,
		RestartPause: cfg.RestartPause,
		TailLines:    cfg.TailLines,
	}, process.NewNative(), resolver,
		supervisor.WithLogger(log),
		supervisor.WithEnvironment(func() ([]string, error) { return buildEnv(cfg, log) }),
		supervisor.WithHistory(sink),
		supervisor.WithMetrics(rec),
		supervisor.WithOutput(out),
	)
	log.Debug("supervisor ready", "config", cfg.Source, "work_dir", cfg.WorkDir, "state_file", cfg.StateFile)
	return s, nil
}

func (s *Supervisor) Start(ctx context.Context) (Handle, error)   { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) error              { return s.inner.Stop(ctx) }
func (s *Supervisor) Status(ctx context.Context) (Report, error)  { return s.inner.Status(ctx) }
func (s *Supervisor) Logs(ctx context.Context) error              { return s.inner.Logs(ctx) }
func (s *Supervisor) Restart(ctx context.Context) (Handle, error) { return s.inner.Restart(ctx) }

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() *slog.Logger { return s.log }

func (s *Supervisor) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func loggerConfig(cfg *Config) logger.Config {
	return logger.Config{
		Level: cfg.Log.Level,
		Color: cfg.Log.Color,
		Time:  cfg.Log.Time,
		File: logger.FileConfig{
			Path:       cfg.Log.File,
			Level:      cfg.Log.FileLevel,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}
}

// buildEnv composes the worker environment from defaults, the OS, the
// dotenv file and configured overrides.
func buildEnv(cfg *Config, log *slog.Logger) ([]string, error) {
	e := env.New()
	e.Defaults = env.WorkerDefaults()
	if err := e.LoadFile(cfg.Worker.EnvFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	for _, at := range e.Skipped {
		log.Warn("ignoring env file line without KEY=VALUE", "at", at)
	}
	return e.Merge(cfg.Worker.Env), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
