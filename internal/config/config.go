// Package config loads and stores the timesheet configuration.
//
// Values come from, in increasing precedence: built-in defaults, the TOML
// config file, and TIMESHEET_* environment variables (TIMESHEET_JIRA_TOKEN
// overrides jira.token).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// AppName names the config and data directories.
const AppName = "timesheet"

// Config is the effective configuration.
type Config struct {
	Jira            JiraConfig      `toml:"jira" yaml:"jira" json:"jira"`
	TrackingProject string          `toml:"tracking_project" yaml:"tracking_project" json:"tracking_project"`
	Database        string          `toml:"database" yaml:"database" json:"database"`
	Log             LogConfig       `toml:"log" yaml:"log" json:"log"`
	Sync            SyncConfig      `toml:"sync" yaml:"sync" json:"sync"`
	Dashboard       DashboardConfig `toml:"dashboard" yaml:"dashboard" json:"dashboard"`
	HTTP            HTTPConfig      `toml:"http" yaml:"http" json:"http"`

	// path is the file the configuration was read from
	path string
}

type JiraConfig struct {
	URL        string `toml:"url" yaml:"url" json:"url"`
	User       string `toml:"user" yaml:"user" json:"user"`
	Token      string `toml:"token" yaml:"token" json:"token"`
	APIVersion string `toml:"api_version" yaml:"api_version" json:"api_version"`
}

type LogConfig struct {
	File string `toml:"file" yaml:"file" json:"file"`
}

// SyncConfig holds durations as Go duration strings ("15m", "720h").
type SyncConfig struct {
	Interval      string `toml:"interval" yaml:"interval" json:"interval"`
	DefaultWindow string `toml:"default_window" yaml:"default_window" json:"default_window"`
}

type DashboardConfig struct {
	Port int `toml:"port" yaml:"port" json:"port"`
}

type HTTPConfig struct {
	Timeout string `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// DefaultPath returns $XDG_CONFIG_HOME/timesheet/config.toml or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, AppName, "config.toml")
}

// DataDir returns the directory holding the cache database and log file.
func DataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.url", "")
	v.SetDefault("jira.user", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.api_version", "latest")
	v.SetDefault("tracking_project", "")
	v.SetDefault("database", filepath.Join(DataDir(), AppName+".db"))
	v.SetDefault("log.file", filepath.Join(DataDir(), AppName+".log"))
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.default_window", "720h")
	v.SetDefault("dashboard.port", 8090)
	v.SetDefault("http.timeout", "30s")
}

// Load reads the configuration at path (DefaultPath if empty). A missing
// file is not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("TIMESHEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, types.Wrap(types.ErrBadInput, "read config", path, err)
		}
	}

	cfg := &Config{
		Jira: JiraConfig{
			URL:        v.GetString("jira.url"),
			User:       v.GetString("jira.user"),
			Token:      v.GetString("jira.token"),
			APIVersion: v.GetString("jira.api_version"),
		},
		TrackingProject: v.GetString("tracking_project"),
		Database:        expandHome(v.GetString("database")),
		Log:             LogConfig{File: expandHome(v.GetString("log.file"))},
		Sync: SyncConfig{
			Interval:      v.GetString("sync.interval"),
			DefaultWindow: v.GetString("sync.default_window"),
		},
		Dashboard: DashboardConfig{Port: v.GetInt("dashboard.port")},
		HTTP:      HTTPConfig{Timeout: v.GetString("http.timeout")},
		path:      path,
	}
	if err := cfg.checkDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) checkDurations() error {
	for key, val := range map[string]string{
		"sync.interval":       c.Sync.Interval,
		"sync.default_window": c.Sync.DefaultWindow,
		"http.timeout":        c.HTTP.Timeout,
	} {
		if val == "" {
			continue
		}
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			return types.Wrap(types.ErrBadInput, "read config", key, fmt.Errorf("invalid duration %q", val))
		}
	}
	return nil
}

// Path returns the file the configuration was loaded from or saved to.
func (c *Config) Path() string { return c.path }

// SyncInterval returns the daemon sync period.
func (c *Config) SyncInterval() time.Duration { return duration(c.Sync.Interval, 15*time.Minute) }

// DefaultWindow returns how far back a sync without a start date reaches.
func (c *Config) DefaultWindow() time.Duration {
	return duration(c.Sync.DefaultWindow, 30*24*time.Hour)
}

// HTTPTimeout returns the per-request Jira timeout.
func (c *Config) HTTPTimeout() time.Duration { return duration(c.HTTP.Timeout, 30*time.Second) }

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate reports missing Jira credentials.
func (c *Config) Validate() error {
	var missing []string
	if c.Jira.URL == "" {
		missing = append(missing, "jira.url")
	}
	if c.Jira.User == "" {
		missing = append(missing, "jira.user")
	}
	if c.Jira.Token == "" {
		missing = append(missing, "jira.token")
	}
	if len(missing) > 0 {
		return types.Wrap(types.ErrBadInput, "validate config", c.path,
			fmt.Errorf("missing %s; run 'timesheet config update'", strings.Join(missing, ", ")))
	}
	return nil
}

// JiraClient returns the client configuration for this config.
func (c *Config) JiraClient() jira.Config {
	cfg := jira.DefaultConfig()
	cfg.BaseURL = c.Jira.URL
	cfg.User = c.Jira.User
	cfg.Token = c.Jira.Token
	if c.Jira.APIVersion != "" {
		cfg.APIVersion = c.Jira.APIVersion
	}
	cfg.Timeout = c.HTTPTimeout()
	return cfg
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Jira.Token != "" {
		c.Jira.Token = "********"
	}
	return c
}

// Save writes the configuration as TOML to path (DefaultPath if empty). The
// file holds the API token and is created with mode 0600.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	cfg.path = path
	return nil
}

// Remove deletes the config file. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}
	return nil
}

// Formats accepted by Encode.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Encode writes the configuration with the token redacted.
func Encode(w io.Writer, cfg *Config, format string) error {
	red := cfg.Redacted()
	switch strings.ToLower(format) {
	case "", FormatTOML:
		return toml.NewEncoder(w).Encode(red)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(red); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(red)
	}
	return types.Wrap(types.ErrBadInput, "encode config", format, errors.New("format must be toml, yaml or json"))
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
