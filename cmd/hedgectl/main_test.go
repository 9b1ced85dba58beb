package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig creates a work dir holding hedgectl.toml and returns the config path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "hedgectl.toml")
	body := `stop_timeout = "2s"
poll_interval = "50ms"
start_grace = "200ms"
restart_pause = "10ms"
` + extra
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHelpExitsZero(t *testing.T) {
	code, out, _ := execCLI("--help")
	assert.Equal(t, 0, code)
	for _, sub := range []string{"start", "stop", "status", "logs", "restart"} {
		assert.Contains(t, out, sub)
	}
}

func TestNoCommandPrintsUsage(t *testing.T) {
	code, out, errOut := execCLI()
	assert.Equal(t, 1, code)
	assert.Contains(t, out+errOut, "Usage:")
	assert.Contains(t, errOut, "a command is required")
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := execCLI("--config", writeConfig(t, ""), "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `unknown command "frobnicate"`)
}

func TestCommandsRejectArgs(t *testing.T) {
	code, _, _ := execCLI("--config", writeConfig(t, ""), "stop", "now")
	assert.Equal(t, 1, code)
}

func TestNothingRunning(t *testing.T) {
	cfg := writeConfig(t, "")
	pidFile := filepath.Join(filepath.Dir(cfg), "hedge_scheduler.pid")

	code, out, _ := execCLI("--config", cfg, "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not running")

	code, _, errOut := execCLI("--config", cfg, "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not running")
	assert.NoFileExists(t, pidFile)

	code, _, errOut = execCLI("--config", cfg, "logs")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "log file not found")
}

func TestStatusCleansStaleState(t *testing.T) {
	cfg := writeConfig(t, "")
	pidFile := filepath.Join(filepath.Dir(cfg), "hedge_scheduler.pid")
	// above any pid_max, so never alive
	require.NoError(t, os.WriteFile(pidFile, []byte("2147483000\n"), 0o644))

	code, out, _ := execCLI("--config", cfg, "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "stale state removed")
	assert.NoFileExists(t, pidFile)
}

func TestMalformedEnvFileDoesNotBlockOperations(t *testing.T) {
	cfg := writeConfig(t, "")
	dir := filepath.Dir(cfg)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("API_KEY=x\nthis line has no equals\n"), 0o600))
	pidFile := filepath.Join(dir, "hedge_scheduler.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("2147483000\n"), 0o644))

	code, out, errOut := execCLI("--config", cfg, "status")
	assert.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "stale state removed")
	assert.NoFileExists(t, pidFile)

	require.NoError(t, os.WriteFile(pidFile, []byte("2147483000\n"), 0o644))
	code, _, errOut = execCLI("--config", cfg, "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "stale state removed")
	assert.NotContains(t, errOut, "env file")
	assert.NoFileExists(t, pidFile)
}

func TestStartWarnsAboutMalformedEnvLine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	cfg := writeConfig(t, `
[worker]
interpreter = "/bin/sh"
script = "worker.sh"
`)
	dir := filepath.Dir(cfg)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("API_KEY=x\nthis line has no equals\n"), 0o600))
	script := "trap 'exit 0' TERM\necho \"key=$API_KEY\"\nwhile true; do sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker.sh"), []byte(script), 0o755))
	t.Cleanup(func() { execCLI("--config", cfg, "stop") })

	code, _, errOut := execCLI("--config", cfg, "start")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "ignoring env file line")
	assert.Contains(t, errOut, ".env:2")

	logFile := filepath.Join(dir, "hedge_scheduler.log")
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(logFile)
		return err == nil && strings.Contains(string(b), "key=x")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMissingConfigFile(t *testing.T) {
	code, _, errOut := execCLI("--config", filepath.Join(t.TempDir(), "nope.toml"), "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "hedgectl:")
}

func TestLogsPrintsTail(t *testing.T) {
	cfg := writeConfig(t, "tail_lines = 2\n")
	logFile := filepath.Join(filepath.Dir(cfg), "hedge_scheduler.log")
	require.NoError(t, os.WriteFile(logFile, []byte("one\ntwo\nthree\n"), 0o644))

	code, out, _ := execCLI("--config", cfg, "logs")
	assert.Equal(t, 0, code)
	assert.Equal(t, "two\nthree\n", out)
}

func TestWorkerLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	cfg := writeConfig(t, `
[worker]
interpreter = "/bin/sh"
script = "worker.sh"
`)
	dir := filepath.Dir(cfg)
	script := "trap 'exit 0' TERM\necho \"tick $1\"\nwhile true; do sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker.sh"), []byte(script), 0o755))
	t.Cleanup(func() { execCLI("--config", cfg, "stop") })

	code, out, errOut := execCLI("--config", cfg, "start")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "hedge-scheduler started (pid")

	code, _, errOut = execCLI("--config", cfg, "start")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already running")

	code, out, _ = execCLI("--config", cfg, "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "is running")

	code, out, errOut = execCLI("--config", cfg, "restart")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "started")

	code, out, _ = execCLI("--config", cfg, "stop")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "stopped")
	assert.NoFileExists(t, filepath.Join(dir, "hedge_scheduler.pid"))
}
