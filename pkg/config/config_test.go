package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultSyncInterval, cfg.Interval())
	assert.Equal(t, DefaultTombstoneRetention, cfg.Retention())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultAccount, cfg.DefaultAccount)
	assert.Equal(t, dbFile, filepath.Base(cfg.DBPath))
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	want := &Config{
		DBPath:                 "/tmp/tasks.db",
		SyncInterval:           "5m",
		DeleteTombstonedRemote: true,
		LogLevel:               "debug",
		DefaultAccount:         "work",
	}
	require.NoError(t, SaveTo(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tasks.db", got.DBPath)
	assert.Equal(t, 5*time.Minute, got.Interval())
	assert.True(t, got.DeleteTombstonedRemote)
	assert.Equal(t, "work", got.DefaultAccount)
	// unset in the file, so defaulted
	assert.Equal(t, DefaultTombstoneRetention, got.Retention())
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sync_interval": "soon"}`), 0600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
