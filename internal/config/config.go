// Package config reads and writes the ledgersync TOML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"ledgersync/internal/errors"
)

// Config is the main configuration for the sync daemon.
type Config struct {
	DataDir    string       `toml:"data_dir"`
	ListenAddr string       `toml:"listen_addr"`
	Remote     RemoteConfig `toml:"remote"`
	Sync       SyncConfig   `toml:"sync"`
	Log        LogConfig    `toml:"log"`
}

// RemoteConfig describes the remote API this daemon reconciles against.
type RemoteConfig struct {
	BaseURL        string   `toml:"base_url"`
	ProbeURLs      []string `toml:"probe_urls"`      // reachability probes; any success means online
	TimeoutSeconds int      `toml:"timeout_seconds"` // per HTTP call
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	IntervalMinutes   int `toml:"interval_minutes"`    // periodic background nudge
	ProbeSeconds      int `toml:"probe_seconds"`       // connectivity probe cadence
	PageSize          int `toml:"page_size"`           // queue entries per pass
	MaxRetries        int `toml:"max_retries"`         // upload attempts before dead-letter
	RetentionDays     int `toml:"retention_days"`      // dead-letter retention
	InitialWindowDays int `toml:"initial_window_days"` // download window on first run
}

// LogConfig controls log output.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns a Config with the documented defaults filled in.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:    dataDir,
		ListenAddr: "localhost:8090",
		Remote: RemoteConfig{
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			IntervalMinutes:   5,
			ProbeSeconds:      15,
			PageSize:          50,
			MaxRetries:        3,
			RetentionDays:     7,
			InitialWindowDays: 30,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Read decodes a Config from the provided reader and applies defaults for
// any omitted tuning value.
func Read(r io.Reader) (*Config, error) {
	cfg := Default("")
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "failed to decode config", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfig, fmt.Sprintf("failed to open config file %s", path), err)
	}
	defer f.Close()
	return Read(f)
}

// Init writes a default config file at path, refusing to overwrite one that
// already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New(errors.ErrConfig, fmt.Sprintf("config file already exists at %s", path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to create config directory", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to create config file", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to encode config", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrConfig, "data_dir is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New(errors.ErrConfig, "remote.base_url is required")
	}
	if c.Sync.PageSize <= 0 || c.Sync.MaxRetries <= 0 {
		return errors.New(errors.ErrConfig, "sync.page_size and sync.max_retries must be positive")
	}
	return nil
}

// HTTPTimeout returns the per-call HTTP timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic trigger interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeSeconds) * time.Second
}
