package hedgectl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadTestConfig(t *testing.T, extra string) *Config {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "hedgectl.toml")
	body := "stop_timeout = \"200ms\"\npoll_interval = \"20ms\"\nstart_grace = \"0s\"\nrestart_pause = \"0s\"\n" + extra
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestOpenStatusAndLogs(t *testing.T) {
	cfg := loadTestConfig(t, "[history]\ndsn = \"sqlite://"+filepath.ToSlash(filepath.Join(t.TempDir(), "h.db"))+"\"\n")
	var console, out bytes.Buffer
	sup, err := Open(cfg, &console, &out)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() {
		if err := sup.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	rep, err := sup.Status(context.Background())
	if err != nil || rep.Running {
		t.Fatalf("status: %+v %v", rep, err)
	}
	if !strings.Contains(out.String(), "hedge-scheduler is not running") {
		t.Fatalf("output: %q", out.String())
	}
	if err := sup.Logs(context.Background()); !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}
	if err := sup.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestOpenWithBrokenHistoryDSN(t *testing.T) {
	cfg := loadTestConfig(t, "[history]\ndsn = \"mysql://db/x\"\n")
	var console bytes.Buffer
	sup, err := Open(cfg, &console, nil)
	if err != nil {
		t.Fatalf("a broken history DSN must not prevent opening: %v", err)
	}
	_ = sup.Close()
	if !strings.Contains(console.String(), "history sink disabled") {
		t.Fatalf("expected a warning, got %q", console.String())
	}
}

func TestStartWithoutInterpreter(t *testing.T) {
	cfg := loadTestConfig(t, "[worker]\ninterpreter = \"/nonexistent/python\"\n")
	sup, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sup.Close() }()
	if _, err := sup.Start(context.Background()); !errors.Is(err, ErrInterpreterNotFound) {
		t.Fatalf("expected ErrInterpreterNotFound, got %v", err)
	}
	if _, err := os.Stat(cfg.StateFile); !os.IsNotExist(err) {
		t.Fatal("no state file expected")
	}
}

func TestBuildEnv(t *testing.T) {
	cfg := loadTestConfig(t, "[worker]\nenv = [\"HEDGE_REGION=eu\", \"HEDGE_DATA=${HEDGE_HOME}/data\"]\n")
	if err := os.WriteFile(cfg.Worker.EnvFile, []byte("HEDGE_TOKEN=abc\nHEDGE_HOME=/srv/hedge\nnot a pair\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var console bytes.Buffer
	vars, err := buildEnv(cfg, slog.New(slog.NewTextHandler(&console, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(console.String(), cfg.Worker.EnvFile+":3") {
		t.Errorf("skipped line not reported: %q", console.String())
	}
	got := map[string]string{}
	for _, kv := range vars {
		k, v, _ := strings.Cut(kv, "=")
		got[k] = v
	}
	want := map[string]string{
		"HEDGE_TOKEN":  "abc",
		"HEDGE_REGION": "eu",
		"HEDGE_DATA":   "/srv/hedge/data",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s=%q want %q", k, got[k], v)
		}
	}
}
