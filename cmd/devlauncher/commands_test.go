package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devlauncher/internal/process"
)

const testConfig = `
root = "."

[supervisor]
grace_period = "1s"
restart_delay = "10ms"
start_all_delay = "50ms"
restart_all_delay = "10ms"
force_kill_patterns = []
force_kill_images = []

[browser]
url = "http://localhost:5173"

[[services]]
name = "backend"
command = "sleep 30"

[[services]]
name = "frontend"
command = "sleep 30"
`

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
}

func writeConfig(t *testing.T) *GlobalFlags {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devlauncher.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return &GlobalFlags{ConfigPath: path, Root: dir}
}

func TestRootHelp(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "devlauncher")
	assert.Contains(t, out.String(), "force-kill")
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	flags := writeConfig(t)
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", flags.ConfigPath, "--root", flags.Root, "config"})
	require.NoError(t, root.Execute())

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, flags.Root, got["Root"])
	assert.Len(t, got["Services"], 2)
}

func TestConfigCommandRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[services]]\nname = \"x\"\n"), 0o600))
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "config"})
	assert.Error(t, root.Execute())
}

func TestPrintStatusReadsPIDFiles(t *testing.T) {
	flags := writeConfig(t)
	cfg, err := loadConfig(flags)
	require.NoError(t, err)

	pidDir := cfg.SupervisorOptions().PIDDir
	require.NoError(t, process.WritePIDFile(filepath.Join(pidDir, "backend.pid"), process.PIDRecord{
		PID: os.Getpid(), StartUnix: process.StartTime(os.Getpid()),
	}))

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, cfg))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "backend")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[2], "frontend")
	assert.Contains(t, lines[2], "stopped")
}

func TestServiceNamePicking(t *testing.T) {
	assert.Equal(t, "backend", backendName([]string{"frontend", "backend"}))
	assert.Equal(t, "frontend", frontendName([]string{"frontend", "backend"}))
	assert.Equal(t, "api", backendName([]string{"api", "web"}))
	assert.Equal(t, "web", frontendName([]string{"api", "web"}))
}

func TestRunLauncherQuitStopsServices(t *testing.T) {
	requireUnix(t)
	flags := writeConfig(t)
	var out bytes.Buffer
	err := runLauncher(context.Background(), flags, &RunFlags{NoColor: true},
		strings.NewReader("status\nquit\n"), &out)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "started backend")
	assert.Contains(t, s, "started frontend")
	assert.Contains(t, s, "stopped backend")
	assert.Contains(t, s, "stopped frontend")
	assert.NotContains(t, s, "\033[")

	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	entries, _ := os.ReadDir(cfg.SupervisorOptions().PIDDir)
	assert.Empty(t, entries, "pidfiles are removed on exit")
}

func TestRunLauncherNoAutostart(t *testing.T) {
	requireUnix(t)
	flags := writeConfig(t)
	var out bytes.Buffer
	require.NoError(t, runLauncher(context.Background(), flags, &RunFlags{NoAutostart: true, NoColor: true},
		strings.NewReader("6\n"), &out))
	assert.NotContains(t, out.String(), "started backend")
	assert.Contains(t, out.String(), "backend:")
}

func TestForceKillCommand(t *testing.T) {
	flags := writeConfig(t)
	var out bytes.Buffer
	require.NoError(t, forceKill(context.Background(), flags, &out))
	assert.Contains(t, out.String(), "[devlauncher]")
}
