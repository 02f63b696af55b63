// Package config resolves the dashboard's settings from defaults, an optional
// TOML file and CLAWDASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// ErrExists is returned by InitConfig when the target file is already there.
var ErrExists = errors.New("config file already exists")

type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"   toml:"paths"`
	Gateway GatewayConfig `mapstructure:"gateway" toml:"gateway"`
	Poll    PollConfig    `mapstructure:"poll"    toml:"poll"`
	Tailer  TailerConfig  `mapstructure:"tailer"  toml:"tailer"`
	Log     LogConfig     `mapstructure:"log"     toml:"log"`
	UI      UIConfig      `mapstructure:"ui"      toml:"ui"`
}

// PathsConfig locates the gateway's files. Empty values are derived from Home.
type PathsConfig struct {
	Home           string `mapstructure:"home"            toml:"home"`
	OpenClawConfig string `mapstructure:"openclaw_config" toml:"openclaw_config"`
	AuthProfiles   string `mapstructure:"auth_profiles"   toml:"auth_profiles"`
	LogDir         string `mapstructure:"log_dir"         toml:"log_dir"`
	StateDir       string `mapstructure:"state_dir"       toml:"state_dir"`
}

type GatewayConfig struct {
	Binary          string        `mapstructure:"binary"            toml:"binary"`
	RestartCommand  []string      `mapstructure:"restart_command"   toml:"restart_command"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"    toml:"status_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"    toml:"health_timeout"`
	VersionTimeout  time.Duration `mapstructure:"version_timeout"   toml:"version_timeout"`
	SetModelTimeout time.Duration `mapstructure:"set_model_timeout" toml:"set_model_timeout"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout"     toml:"login_timeout"`
	RestartTimeout  time.Duration `mapstructure:"restart_timeout"   toml:"restart_timeout"`
}

type PollConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"   toml:"refresh_interval"`
	HealthInterval   time.Duration `mapstructure:"health_interval"    toml:"health_interval"`
	LogDrainInterval time.Duration `mapstructure:"log_drain_interval" toml:"log_drain_interval"`
}

type TailerConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity" toml:"queue_capacity"`
	FileWait      time.Duration `mapstructure:"file_wait"      toml:"file_wait"`
	IdleWait      time.Duration `mapstructure:"idle_wait"      toml:"idle_wait"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"  toml:"error_backoff"`
}

type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	// File defaults to clawdash.log in the state dir.
	File string `mapstructure:"file" toml:"file"`
}

type UIConfig struct {
	Verbose    bool `mapstructure:"verbose"     toml:"verbose"`
	LogLines   int  `mapstructure:"log_lines"   toml:"log_lines"`
	WatchFiles bool `mapstructure:"watch_files" toml:"watch_files"`
}

// Load reads configuration with the following precedence (highest first):
//
//  1. CLAWDASH_* environment variables (e.g. CLAWDASH_POLL_REFRESH_INTERVAL)
//  2. explicitPath, if non-empty
//  3. ~/.clawdash/clawdash.toml
//  4. ./clawdash.toml
//  5. Built-in defaults
//
// Paths are resolved against the home directory before returning.
func Load(explicitPath string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v)

	v.SetEnvPrefix("CLAWDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, DefaultStateDirName))
		}
		v.AddConfigPath(".")
		v.SetConfigName("clawdash")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, "", fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, "", err
	}
	if err := validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func (c *Config) resolvePaths() error {
	p := &c.Paths
	if p.Home == "" || strings.HasPrefix(p.Home, "~") {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determining home directory: %w", err)
		}
		p.Home = orDefault(expandHome(p.Home, userHome), userHome)
	}

	openclaw := filepath.Join(p.Home, ".openclaw")
	p.OpenClawConfig = orDefault(expandHome(p.OpenClawConfig, p.Home), filepath.Join(openclaw, "openclaw.json"))
	p.AuthProfiles = orDefault(expandHome(p.AuthProfiles, p.Home), filepath.Join(openclaw, "agents", "main", "agent", "auth-profiles.json"))
	p.LogDir = orDefault(expandHome(p.LogDir, p.Home), DefaultLogDir)
	p.StateDir = orDefault(expandHome(p.StateDir, p.Home), filepath.Join(p.Home, DefaultStateDirName))
	c.Log.File = orDefault(expandHome(c.Log.File, p.Home), filepath.Join(p.StateDir, "clawdash.log"))
	return nil
}

func validate(c *Config) error {
	var problems []string
	if c.Gateway.Binary == "" {
		problems = append(problems, "gateway.binary must not be empty")
	}
	if len(c.Gateway.RestartCommand) == 0 {
		problems = append(problems, "gateway.restart_command must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"poll.refresh_interval":   c.Poll.RefreshInterval,
		"poll.health_interval":    c.Poll.HealthInterval,
		"poll.log_drain_interval": c.Poll.LogDrainInterval,
	} {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.Tailer.QueueCapacity <= 0 {
		problems = append(problems, "tailer.queue_capacity must be positive")
	}
	if c.UI.LogLines <= 0 {
		problems = append(problems, "ui.log_lines must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	return data, nil
}

// InitConfig writes the default configuration to path, or to
// ~/.clawdash/clawdash.toml when path is empty. An existing file is left
// untouched and ErrExists returned.
func InitConfig(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		path = filepath.Join(home, DefaultStateDirName, DefaultConfigFilename)
	}
	if _, err := os.Stat(path); err == nil {
		return path, ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	data, err := Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// setViperDefaults registers every key so env overrides work without a file.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("paths.home", d.Paths.Home)
	v.SetDefault("paths.openclaw_config", d.Paths.OpenClawConfig)
	v.SetDefault("paths.auth_profiles", d.Paths.AuthProfiles)
	v.SetDefault("paths.log_dir", d.Paths.LogDir)
	v.SetDefault("paths.state_dir", d.Paths.StateDir)

	v.SetDefault("gateway.binary", d.Gateway.Binary)
	v.SetDefault("gateway.restart_command", d.Gateway.RestartCommand)
	v.SetDefault("gateway.status_timeout", d.Gateway.StatusTimeout)
	v.SetDefault("gateway.health_timeout", d.Gateway.HealthTimeout)
	v.SetDefault("gateway.version_timeout", d.Gateway.VersionTimeout)
	v.SetDefault("gateway.set_model_timeout", d.Gateway.SetModelTimeout)
	v.SetDefault("gateway.login_timeout", d.Gateway.LoginTimeout)
	v.SetDefault("gateway.restart_timeout", d.Gateway.RestartTimeout)

	v.SetDefault("poll.refresh_interval", d.Poll.RefreshInterval)
	v.SetDefault("poll.health_interval", d.Poll.HealthInterval)
	v.SetDefault("poll.log_drain_interval", d.Poll.LogDrainInterval)

	v.SetDefault("tailer.queue_capacity", d.Tailer.QueueCapacity)
	v.SetDefault("tailer.file_wait", d.Tailer.FileWait)
	v.SetDefault("tailer.idle_wait", d.Tailer.IdleWait)
	v.SetDefault("tailer.error_backoff", d.Tailer.ErrorBackoff)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.log_lines", d.UI.LogLines)
	v.SetDefault("ui.watch_files", d.UI.WatchFiles)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// expandHome replaces a leading ~ with home.
func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	return filepath.Join(home, path[2:])
}
