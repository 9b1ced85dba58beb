// Package config loads hedgectl settings from an optional TOML file,
// HEDGECTL_* environment variables and built-in defaults, in that order of
// precedence (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is looked up in the current directory when no --config is given.
const DefaultFile = "hedgectl.toml"

const envPrefix = "HEDGECTL"

type Config struct {
	WorkDir      string        `mapstructure:"work_dir"`
	StateFile    string        `mapstructure:"state_file"`
	LogFile      string        `mapstructure:"log_file"`
	Interval     int           `mapstructure:"interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartGrace   time.Duration `mapstructure:"start_grace"`
	RestartPause time.Duration `mapstructure:"restart_pause"`
	TailLines    int           `mapstructure:"tail_lines"`

	Worker  WorkerConfig  `mapstructure:"worker"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Source is the config file that was read; empty when running on defaults.
	Source string `mapstructure:"-"`
}

type WorkerConfig struct {
	Name         string   `mapstructure:"name"`
	Script       string   `mapstructure:"script"`
	Interpreter  string   `mapstructure:"interpreter"`
	Interpreters []string `mapstructure:"interpreters"`
	VenvDirs     []string `mapstructure:"venv_dirs"`
	Args         []string `mapstructure:"args"`
	Env          []string `mapstructure:"env"`
	EnvFile      string   `mapstructure:"env_file"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	Time       bool   `mapstructure:"time"`
	File       string `mapstructure:"file"`
	FileLevel  string `mapstructure:"file_level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", ".")
	v.SetDefault("state_file", "hedge_scheduler.pid")
	v.SetDefault("log_file", "hedge_scheduler.log")
	v.SetDefault("interval", 15)
	v.SetDefault("stop_timeout", "10s")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("start_grace", "1s")
	v.SetDefault("restart_pause", "2s")
	v.SetDefault("tail_lines", 20)

	v.SetDefault("worker.name", "hedge-scheduler")
	v.SetDefault("worker.script", "get_hedge_fetcher.py")
	v.SetDefault("worker.interpreter", "")
	v.SetDefault("worker.interpreters", []string{"python3", "python"})
	v.SetDefault("worker.venv_dirs", []string{"venv", ".venv"})
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.env_file", ".env")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.color", false)
	v.SetDefault("log.time", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.file_level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.textfile", "")
}

// Load reads configuration. With an empty path, DefaultFile in the current
// directory is used if present; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	base, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		if abs, err := filepath.Abs(used); err == nil {
			cfg.Source = abs
			base = filepath.Dir(abs)
		}
	}
	cfg.resolvePaths(base)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths makes work_dir absolute against base and every other file
// path absolute against work_dir.
func (c *Config) resolvePaths(base string) {
	c.WorkDir = under(base, c.WorkDir)
	c.StateFile = under(c.WorkDir, c.StateFile)
	c.LogFile = under(c.WorkDir, c.LogFile)
	if c.Worker.EnvFile != "" {
		c.Worker.EnvFile = under(c.WorkDir, c.Worker.EnvFile)
	}
	if c.Log.File != "" {
		c.Log.File = under(c.WorkDir, c.Log.File)
	}
	if c.Metrics.Textfile != "" {
		c.Metrics.Textfile = under(c.WorkDir, c.Metrics.Textfile)
	}
}

func under(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Worker.Script) == "":
		return errors.New("worker.script must be set")
	case strings.TrimSpace(c.Worker.Name) == "":
		return errors.New("worker.name must be set")
	case c.Interval <= 0:
		return fmt.Errorf("interval must be positive, got %d", c.Interval)
	case c.StopTimeout <= 0:
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	case c.StartGrace < 0:
		return fmt.Errorf("start_grace must not be negative, got %s", c.StartGrace)
	case c.RestartPause < 0:
		return fmt.Errorf("restart_pause must not be negative, got %s", c.RestartPause)
	case c.TailLines <= 0:
		return fmt.Errorf("tail_lines must be positive, got %d", c.TailLines)
	case c.StateFile == c.LogFile:
		return fmt.Errorf("state_file and log_file must differ (%s)", c.StateFile)
	}
	return nil
}
