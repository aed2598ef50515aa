package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/pwstudio/internal/env"
	"github.com/loykin/pwstudio/internal/logger"
	"github.com/loykin/pwstudio/internal/recorder"
	"github.com/loykin/pwstudio/internal/runner"
	itls "github.com/loykin/pwstudio/internal/tls"
)

// EnvPrefix prefixes environment overrides: PWSTUDIO_RUNNER_TIMEOUT=30s sets runner.timeout.
const EnvPrefix = "PWSTUDIO"

// Config is the top-level TOML structure.
type Config struct {
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Recorder RecorderConfig `toml:"recorder" mapstructure:"recorder"`
	Runner   RunnerConfig   `toml:"runner" mapstructure:"runner"`
	Storage  StorageConfig  `toml:"storage" mapstructure:"storage"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`

	// Extra environment for the recorder and runner subprocesses. env_files
	// are applied first, then env entries override them.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
}

type ServerConfig struct {
	Listen          string        `toml:"listen" mapstructure:"listen"` // overrides port when set, e.g. 127.0.0.1:4000
	Port            int           `toml:"port" mapstructure:"port"`
	BasePath        string        `toml:"base_path" mapstructure:"base_path"`
	CORSOrigins     []string      `toml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             itls.Options  `toml:"tls" mapstructure:"tls"`
}

type RecorderConfig struct {
	Command     string        `toml:"command" mapstructure:"command"`
	OutputFlag  string        `toml:"output_flag" mapstructure:"output_flag"`
	ArtifactDir string        `toml:"artifact_dir" mapstructure:"artifact_dir"`
	WorkDir     string        `toml:"workdir" mapstructure:"workdir"`
	StopGrace   time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
}

type RunnerConfig struct {
	Command    string        `toml:"command" mapstructure:"command"`
	Reporter   string        `toml:"reporter" mapstructure:"reporter"`
	Root       string        `toml:"root" mapstructure:"root"`
	ScratchDir string        `toml:"scratch_dir" mapstructure:"scratch_dir"`
	Ext        string        `toml:"ext" mapstructure:"ext"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type StorageConfig struct {
	SavedDir string `toml:"saved_dir" mapstructure:"saved_dir"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	ProcessDir string `toml:"process_dir" mapstructure:"process_dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"` // dedicated listener; empty serves /metrics on the API port
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"` // DSNs, see history/factory
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")

	v.SetDefault("recorder.command", recorder.DefaultCommand)
	v.SetDefault("recorder.output_flag", recorder.DefaultOutputFlag)
	v.SetDefault("recorder.artifact_dir", "")
	v.SetDefault("recorder.workdir", "")
	v.SetDefault("recorder.stop_grace", recorder.DefaultStopGrace)

	v.SetDefault("runner.command", runner.DefaultCommand)
	v.SetDefault("runner.reporter", runner.DefaultReporter)
	v.SetDefault("runner.root", ".")
	v.SetDefault("runner.scratch_dir", "playwright-temp")
	v.SetDefault("runner.ext", runner.DefaultExt)
	v.SetDefault("runner.timeout", runner.DefaultTimeout)

	v.SetDefault("storage.saved_dir", "playwright-saved")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.file", "")
	v.SetDefault("log.process_dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})

	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
}

// Load builds the configuration from defaults, the optional TOML file at path,
// PWSTUDIO_* environment variables and finally PORT.
func Load(path string) (*Config, error) {
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
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
		}
		v.Set("server.port", port)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	for _, o := range c.Server.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("server.cors_origins entry %q must be * or start with http:// or https://", o))
		}
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Recorder.Command) == "" {
		errs = append(errs, errors.New("recorder.command is required"))
	}
	if c.Recorder.StopGrace <= 0 {
		errs = append(errs, errors.New("recorder.stop_grace must be positive"))
	}
	if strings.TrimSpace(c.Runner.Command) == "" {
		errs = append(errs, errors.New("runner.command is required"))
	}
	if c.Runner.Ext != ".ts" && c.Runner.Ext != ".js" {
		errs = append(errs, fmt.Errorf("runner.ext %q must be .ts or .js", c.Runner.Ext))
	}
	if c.Runner.Timeout < 0 {
		errs = append(errs, errors.New("runner.timeout must not be negative"))
	}
	if c.Storage.SavedDir == "" {
		errs = append(errs, errors.New("storage.saved_dir is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "color", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be color, text or json", c.Log.Format))
	}
	if c.History.Enabled {
		if len(c.History.Sinks) == 0 {
			errs = append(errs, errors.New("history.enabled requires at least one history.sinks entry"))
		}
		for _, s := range c.History.Sinks {
			if strings.TrimSpace(s) == "" {
				errs = append(errs, errors.New("history.sinks contains an empty DSN"))
			}
		}
	}
	return errors.Join(errs...)
}

// Addr is the API listen address.
func (c *Config) Addr() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	return ":" + strconv.Itoa(c.Server.Port)
}

// ScratchDir resolves runner.scratch_dir against runner.root.
func (c *Config) ScratchDir() string {
	if filepath.IsAbs(c.Runner.ScratchDir) {
		return c.Runner.ScratchDir
	}
	return filepath.Join(c.Runner.Root, c.Runner.ScratchDir)
}

func (c *Config) LoggerSettings() logger.Settings {
	return logger.Settings{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   c.Log.File,
		Config: c.rotation(""),
	}
}

// ProcessLogs is where subprocess output is teed; disabled when log.process_dir is empty.
func (c *Config) ProcessLogs() logger.Config { return c.rotation(c.Log.ProcessDir) }

func (c *Config) rotation(dir string) logger.Config {
	return logger.Config{
		Dir:        dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// RecorderConfig maps the [recorder] section. env is appended to the service environment.
func (c *Config) RecorderConfig(env []string) recorder.Config {
	return recorder.Config{
		Command:     c.Recorder.Command,
		OutputFlag:  c.Recorder.OutputFlag,
		ArtifactDir: c.Recorder.ArtifactDir,
		WorkDir:     c.Recorder.WorkDir,
		Env:         env,
		StopGrace:   c.Recorder.StopGrace,
		Logs:        c.ProcessLogs(),
	}
}

// RunnerConfig maps the [runner] section.
func (c *Config) RunnerConfig(env []string) runner.Config {
	return runner.Config{
		Command:    c.Runner.Command,
		Reporter:   c.Runner.Reporter,
		Root:       c.Runner.Root,
		ScratchDir: c.ScratchDir(),
		Ext:        c.Runner.Ext,
		Timeout:    c.Runner.Timeout,
		Env:        env,
		Logs:       c.ProcessLogs(),
	}
}

// ProcessEnv merges env_files (in order) and env into KEY=VALUE overrides;
// later entries win. The result is sorted by key. ${VAR} references are kept
// and expanded when a subprocess starts.
func (c *Config) ProcessEnv() ([]string, error) {
	m := make(map[string]string)
	var pairs []string
	for _, p := range c.EnvFiles {
		fromFile, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		pairs = append(pairs, fromFile...)
	}
	pairs = append(pairs, c.Env...)
	for _, kv := range pairs {
		if k, v, ok := env.Split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}
