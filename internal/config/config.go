// Package config loads sync point settings from a config file, environment
// variables and command-line flags.
//
// Precedence, highest first: flags bound with viper.BindPFlag, SYNCPOINT_*
// environment variables, the config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// ErrNoEndpoint is returned by Validate when no endpoint is configured.
var ErrNoEndpoint = errors.New("no endpoint configured (set endpoint in syncpoint.toml or SYNCPOINT_ENDPOINT)")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYNCPOINT"

// Keys.
const (
	KeyEndpoint       = "endpoint"
	KeyToken          = "token"
	KeyDatabase       = "database"
	KeyManifest       = "manifest"
	KeyInterval       = "interval"
	KeyTimeout        = "timeout"
	KeyLogFile        = "log.file"
	KeyLogLevel       = "log.level"
	KeyDashboardPort  = "dashboard.port"
	KeyBackoffInitial = "backoff.initial"
	KeyBackoffMax     = "backoff.max"
)

// Config is the resolved configuration.
type Config struct {
	Endpoint  string          `mapstructure:"endpoint"`
	Token     string          `mapstructure:"token"`
	Database  string          `mapstructure:"database"`
	Manifest  string          `mapstructure:"manifest"`
	Interval  time.Duration   `mapstructure:"interval"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Backoff   BackoffConfig   `mapstructure:"backoff"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DashboardConfig configures the dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// BackoffConfig configures retry delays after a failed periodic sync.
type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Database: filepath.Join(".syncpoint", "cache.db"),
		Manifest: "resources.yaml",
		Interval: time.Hour,
		Timeout:  30 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Dashboard: DashboardConfig{Port: 8080},
		Backoff: BackoffConfig{
			Initial: 30 * time.Second,
		},
	}
}

// New returns a viper instance with defaults, the config search path and
// environment overrides installed.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName("syncpoint")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "syncpoint"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".syncpoint"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default so that environment
// overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyEndpoint, d.Endpoint)
	v.SetDefault(KeyToken, d.Token)
	v.SetDefault(KeyDatabase, d.Database)
	v.SetDefault(KeyManifest, d.Manifest)
	v.SetDefault(KeyInterval, d.Interval)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyLogFile, d.Log.File)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyDashboardPort, d.Dashboard.Port)
	v.SetDefault(KeyBackoffInitial, d.Backoff.Initial)
	v.SetDefault(KeyBackoffMax, d.Backoff.Max)
}

// Load reads the config file (an explicit path, or the first match on the
// search path) and resolves the configuration. A missing file on the search
// path is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed for a network sync.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrNoEndpoint
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// fileConfig is the on-disk TOML shape. Durations are written as strings
// such as "1h0m0s".
type fileConfig struct {
	Endpoint  string `toml:"endpoint"`
	Token     string `toml:"token,omitempty"`
	Database  string `toml:"database"`
	Manifest  string `toml:"manifest"`
	Interval  string `toml:"interval"`
	Timeout   string `toml:"timeout"`
	Log       struct {
		File  string `toml:"file,omitempty"`
		Level string `toml:"level"`
	} `toml:"log"`
	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`
	Backoff struct {
		Initial string `toml:"initial"`
		Max     string `toml:"max,omitempty"`
	} `toml:"backoff"`
}

// WriteFile writes c as TOML to path, creating parent directories. The file
// is readable only by its owner since it may hold the token.
func WriteFile(path string, c *Config) error {
	var fc fileConfig
	fc.Endpoint = c.Endpoint
	fc.Token = c.Token
	fc.Database = c.Database
	fc.Manifest = c.Manifest
	fc.Interval = c.Interval.String()
	fc.Timeout = c.Timeout.String()
	fc.Log.File = c.Log.File
	fc.Log.Level = c.Log.Level
	fc.Dashboard.Port = c.Dashboard.Port
	fc.Backoff.Initial = c.Backoff.Initial.String()
	if c.Backoff.Max > 0 {
		fc.Backoff.Max = c.Backoff.Max.String()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
