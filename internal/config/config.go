package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/devlauncher/internal/logger"
	"github.com/loykin/devlauncher/internal/service"
	"github.com/loykin/devlauncher/internal/supervisor"
)

// DefaultFile is read when --config is not given and the file exists.
const DefaultFile = "devlauncher.toml"

// EnvPrefix prefixes environment overrides, e.g.
// DEVLAUNCHER_SUPERVISOR_GRACE_PERIOD=10s.
const EnvPrefix = "DEVLAUNCHER"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Root       string           `toml:"root" mapstructure:"root"`
	Env        []string         `toml:"env" mapstructure:"env"`
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	HTTP       HTTPConfig       `toml:"http" mapstructure:"http"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Browser    BrowserConfig    `toml:"browser" mapstructure:"browser"`
	Services   []ServiceConfig  `toml:"services" mapstructure:"services"`
}

type SupervisorConfig struct {
	GracePeriod       time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	RestartDelay      time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	StartAllDelay     time.Duration `toml:"start_all_delay" mapstructure:"start_all_delay"`
	RestartAllDelay   time.Duration `toml:"restart_all_delay" mapstructure:"restart_all_delay"`
	PIDDir            string        `toml:"pid_dir" mapstructure:"pid_dir"`
	ForceKillPatterns []string      `toml:"force_kill_patterns" mapstructure:"force_kill_patterns"`
	ForceKillImages   []string      `toml:"force_kill_images" mapstructure:"force_kill_images"`
}

type HTTPConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type BrowserConfig struct {
	URL string `toml:"url" mapstructure:"url"`
}

type ServiceConfig struct {
	Name    string   `toml:"name" mapstructure:"name"`
	Tag     string   `toml:"tag" mapstructure:"tag"`
	WorkDir string   `toml:"workdir" mapstructure:"workdir"`
	Command string   `toml:"command" mapstructure:"command"`
	Args    []string `toml:"args" mapstructure:"args"` // overrides Command when set
	Env     []string `toml:"env" mapstructure:"env"`
}

func npmCommand() string {
	if runtime.GOOS == "windows" {
		return "npm.cmd run dev"
	}
	return "npm run dev"
}

// DefaultServices is the reference deployment: a Go backend and a Vite
// frontend under new-api/.
func DefaultServices() []map[string]any {
	return []map[string]any{
		{"name": "backend", "tag": "backend", "workdir": "new-api", "command": "go run . -port 3050"},
		{"name": "frontend", "tag": "frontend", "workdir": filepath.Join("new-api", "web"), "command": npmCommand()},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("use_os_env", true)
	v.SetDefault("supervisor.grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("supervisor.restart_delay", supervisor.DefaultRestartDelay)
	v.SetDefault("supervisor.start_all_delay", supervisor.DefaultStartAllDelay)
	v.SetDefault("supervisor.restart_all_delay", supervisor.DefaultRestartAllDelay)
	v.SetDefault("supervisor.pid_dir", filepath.Join(".devlauncher", "pids"))
	v.SetDefault("supervisor.force_kill_patterns", []string{"go run", "node"})
	v.SetDefault("supervisor.force_kill_images", []string{"go.exe", "new-api.exe", "node.exe"})
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", "")
	v.SetDefault("http.base_path", "/api")
	v.SetDefault("history.dsn", "")
	v.SetDefault("browser.url", "http://localhost:5173")
	v.SetDefault("services", DefaultServices())
}

// Load reads path (TOML) over the built-in defaults and applies
// DEVLAUNCHER_* environment overrides. An empty path loads defaults only.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Resolve returns the config path to load: explicit wins, otherwise
// DefaultFile when it exists, otherwise "" for defaults only.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

// Validate checks names, commands and durations.
func (c *FileConfig) Validate() error {
	if len(c.Services) == 0 {
		return errors.New("config: at least one service is required")
	}
	seen := make(map[string]bool, len(c.Services))
	for i, sc := range c.Services {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return fmt.Errorf("config: services[%d] requires name", i)
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate service name %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(sc.Command) == "" && len(sc.Args) == 0 {
			return fmt.Errorf("config: service %q requires command", name)
		}
	}
	// the settle delays may be "0s" to disable them; the grace period may not
	if d := c.Supervisor.GracePeriod; d <= 0 {
		return fmt.Errorf("config: supervisor.grace_period must be positive, got %s", d)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// WithRoot overrides the configured root directory.
func (c *FileConfig) WithRoot(root string) {
	if root != "" {
		c.Root = root
	}
}

// Path resolves p against Root unless it is absolute or empty.
func (c *FileConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Specs converts the service tables into validated service specs in
// configured order.
func (c *FileConfig) Specs() ([]service.Spec, error) {
	out := make([]service.Spec, 0, len(c.Services))
	for _, sc := range c.Services {
		argv := sc.Args
		if len(argv) == 0 {
			argv = service.ParseCommand(sc.Command)
		}
		sp := service.Spec{
			Name:    sc.Name,
			Tag:     sc.Tag,
			Command: argv,
			WorkDir: c.Path(sc.WorkDir),
			Env:     sc.Env,
		}
		if err := sp.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

// GlobalEnv merges env_files and the top-level env list. Later entries win.
func (c *FileConfig) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		kvs, err := LoadEnvFile(c.Path(p))
		if err != nil {
			return nil, err
		}
		out = append(out, kvs...)
	}
	return append(out, c.Env...), nil
}

// SupervisorOptions maps the [supervisor] table onto supervisor.Options.
// Terminator, Env, History and Logger are left for the caller.
func (c *FileConfig) SupervisorOptions() supervisor.Options {
	pidDir := c.Supervisor.PIDDir
	if pidDir != "" {
		pidDir = c.Path(pidDir)
	}
	return supervisor.Options{
		GracePeriod:       c.Supervisor.GracePeriod,
		RestartDelay:      delay(c.Supervisor.RestartDelay),
		StartAllDelay:     delay(c.Supervisor.StartAllDelay),
		RestartAllDelay:   delay(c.Supervisor.RestartAllDelay),
		PIDDir:            pidDir,
		ForceKillPatterns: c.Supervisor.ForceKillPatterns,
		ForceKillImages:   c.Supervisor.ForceKillImages,
	}
}

// delay maps a configured zero or negative delay to the supervisor's
// "disabled" value; a zero Options field would select the default instead.
func delay(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

// LogConfig returns the [log] table with the mirror path resolved.
func (c *FileConfig) LogConfig() logger.Config {
	lc := c.Log
	lc.File = c.Path(lc.File)
	return lc
}
