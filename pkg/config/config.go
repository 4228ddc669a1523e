package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	xdgAppName = "taskweave"
	configFile = "config.json"
	dbFile     = "taskweave.db"

	DefaultSyncInterval       = 15 * time.Minute
	DefaultTombstoneRetention = 90 * 24 * time.Hour
	DefaultAccount            = "default"
)

type Config struct {
	DBPath string `json:"db_path"`
	// SyncInterval is a Go duration string, e.g. "15m".
	SyncInterval           string `json:"sync_interval"`
	DeleteTombstonedRemote bool   `json:"delete_tombstoned_remote"`
	TombstoneRetention     string `json:"tombstone_retention"`
	LogLevel               string `json:"log_level"`
	LogFile                string `json:"log_file"`
	DefaultAccount         string `json:"default_account"`
}

// Dir is where the config file, the database and the OAuth files live.
func Dir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Default returns the configuration used when no file exists yet.
func Default() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Config{
		DBPath:             filepath.Join(dir, dbFile),
		SyncInterval:       DefaultSyncInterval.String(),
		TombstoneRetention: DefaultTombstoneRetention.String(),
		LogLevel:           "info",
		DefaultAccount:     DefaultAccount,
	}, nil
}

func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads path, filling unset fields with defaults. A missing file
// is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	var fromFile Config
	if err := json.NewDecoder(f).Decode(&fromFile); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	merge(cfg, &fromFile)

	if _, err := time.ParseDuration(cfg.SyncInterval); err != nil {
		return nil, fmt.Errorf("invalid sync_interval %q: %w", cfg.SyncInterval, err)
	}
	if _, err := time.ParseDuration(cfg.TombstoneRetention); err != nil {
		return nil, fmt.Errorf("invalid tombstone_retention %q: %w", cfg.TombstoneRetention, err)
	}
	return cfg, nil
}

func merge(dst, src *Config) {
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.SyncInterval != "" {
		dst.SyncInterval = src.SyncInterval
	}
	if src.TombstoneRetention != "" {
		dst.TombstoneRetention = src.TombstoneRetention
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DefaultAccount != "" {
		dst.DefaultAccount = src.DefaultAccount
	}
	dst.LogFile = src.LogFile
	dst.DeleteTombstonedRemote = src.DeleteTombstonedRemote
}

// Interval is SyncInterval parsed, falling back to the default.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.SyncInterval)
	if err != nil || d <= 0 {
		return DefaultSyncInterval
	}
	return d
}

// Retention is how long tombstones are kept before pruning.
func (c *Config) Retention() time.Duration {
	d, err := time.ParseDuration(c.TombstoneRetention)
	if err != nil || d <= 0 {
		return DefaultTombstoneRetention
	}
	return d
}

func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

func SaveTo(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}
