package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devlauncher/internal/supervisor"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "devlauncher.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	fc, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, supervisor.DefaultGracePeriod, fc.Supervisor.GracePeriod)
	assert.Equal(t, supervisor.DefaultRestartDelay, fc.Supervisor.RestartDelay)
	assert.Equal(t, supervisor.DefaultStartAllDelay, fc.Supervisor.StartAllDelay)
	assert.Equal(t, supervisor.DefaultRestartAllDelay, fc.Supervisor.RestartAllDelay)
	assert.Equal(t, []string{"go run", "node"}, fc.Supervisor.ForceKillPatterns)
	assert.Equal(t, "http://localhost:5173", fc.Browser.URL)
	assert.True(t, fc.UseOSEnv)

	specs, err := fc.Specs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "backend", specs[0].Name)
	assert.Equal(t, []string{"go", "run", ".", "-port", "3050"}, specs[0].Command)
	assert.Equal(t, filepath.Join(".", "new-api"), specs[0].WorkDir)
	assert.Equal(t, "frontend", specs[1].Name)
	assert.Equal(t, filepath.Join("new-api", "web"), specs[1].WorkDir)
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
root = "/srv/app"
env = ["MODE=dev"]

[supervisor]
grace_period = "2s"
restart_delay = "250ms"
start_all_delay = "1s"
restart_all_delay = "500ms"
pid_dir = "run"
force_kill_patterns = ["vite"]

[log]
file = "logs/dev.log"
level = "debug"

[http]
addr = "127.0.0.1:7070"

[[services]]
name = "api"
command = "go run ./cmd/api"
workdir = "api"
env = ["PORT=8080"]

[[services]]
name = "web"
tag = "ui"
args = ["npm", "run", "dev", "--", "--host"]
workdir = "/abs/web"
`)
	fc, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, fc.Supervisor.GracePeriod)
	assert.Equal(t, 250*time.Millisecond, fc.Supervisor.RestartDelay)
	assert.Equal(t, "127.0.0.1:7070", fc.HTTP.Addr)

	opts := fc.SupervisorOptions()
	assert.Equal(t, filepath.Join("/srv/app", "run"), opts.PIDDir)
	assert.Equal(t, []string{"vite"}, opts.ForceKillPatterns)

	lc := fc.LogConfig()
	assert.Equal(t, filepath.Join("/srv/app", "logs", "dev.log"), lc.File)
	assert.Equal(t, "debug", lc.Level)

	specs, err := fc.Specs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"go", "run", "./cmd/api"}, specs[0].Command)
	assert.Equal(t, filepath.Join("/srv/app", "api"), specs[0].WorkDir)
	assert.Equal(t, []string{"PORT=8080"}, specs[0].Env)
	assert.Equal(t, "api", specs[0].DisplayTag())
	assert.Equal(t, []string{"npm", "run", "dev", "--", "--host"}, specs[1].Command)
	assert.Equal(t, "/abs/web", specs[1].WorkDir)
	assert.Equal(t, "ui", specs[1].DisplayTag())
}

func TestWithRootOverride(t *testing.T) {
	fc, err := Load("")
	require.NoError(t, err)
	fc.WithRoot("/work")
	specs, err := fc.Specs()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "new-api"), specs[0].WorkDir)
	fc.WithRoot("")
	assert.Equal(t, "/work", fc.Root)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEVLAUNCHER_SUPERVISOR_GRACE_PERIOD", "9s")
	t.Setenv("DEVLAUNCHER_HTTP_ADDR", "127.0.0.1:9999")
	fc, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, fc.Supervisor.GracePeriod)
	assert.Equal(t, "127.0.0.1:9999", fc.HTTP.Addr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", `
[[services]]
command = "sleep 1"
`},
		{"duplicate", `
[[services]]
name = "a"
command = "sleep 1"
[[services]]
name = "a"
command = "sleep 2"
`},
		{"missing command", `
[[services]]
name = "a"
`},
		{"zero grace", `
[supervisor]
grace_period = "0s"
`},
		{"bad level", `
[log]
level = "chatty"
`},
		{"bad duration", `
[supervisor]
restart_delay = "soon"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.data))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestZeroDelaysDisable(t *testing.T) {
	fc, err := Load(writeTOML(t, `
[supervisor]
restart_delay = "0s"
start_all_delay = "0s"
restart_all_delay = "-1s"
`))
	require.NoError(t, err)
	opts := fc.SupervisorOptions()
	// negative disables; zero would mean "use the default"
	assert.Negative(t, opts.RestartDelay)
	assert.Negative(t, opts.StartAllDelay)
	assert.Negative(t, opts.RestartAllDelay)
	assert.Equal(t, supervisor.DefaultGracePeriod, opts.GracePeriod)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "x.toml", Resolve("x.toml"))

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, "", Resolve(""))
	require.NoError(t, os.WriteFile(DefaultFile, []byte(""), 0o644))
	assert.Equal(t, DefaultFile, Resolve(""))
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`
# comment
export A=1
B="two words"
C='3'
malformed
`), 0o644))
	fc := &FileConfig{Root: dir, EnvFiles: []string{".env"}, Env: []string{"A=override"}}

	kvs, err := fc.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two words", "C=3", "A=override"}, kvs)

	fc.EnvFiles = []string{"missing.env"}
	_, err = fc.GlobalEnv()
	assert.Error(t, err)
}
