package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path string, cfg *Config) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(cfg.String()), 0644))
}

func TestNewWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config path")
}

func TestWatcherReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "linkcap.json")

	cfg := validConfig()
	writeConfigFile(t, configPath, cfg)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		ConfigPath:         configPath,
		StabilityThreshold: 50 * time.Millisecond,
		OnReload: func(next *Config) {
			reloaded <- next
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// Change a runtime-tunable setting and rewrite the file
	cfg.Logging.Level = "debug"
	cfg.Capture.VerifyURL = "https://www.linkedin.com/feed/?probe=1"
	writeConfigFile(t, configPath, cfg)

	select {
	case next := <-reloaded:
		assert.Equal(t, "debug", next.Logging.Level)
		assert.Equal(t, "https://www.linkedin.com/feed/?probe=1", next.Capture.VerifyURL)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload callback was not invoked")
	}
}

func TestWatcherRejectsInvalidReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "linkcap.json")

	cfg := validConfig()
	writeConfigFile(t, configPath, cfg)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		ConfigPath:         configPath,
		StabilityThreshold: 50 * time.Millisecond,
		OnReload: func(next *Config) {
			reloaded <- next
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// An invalid file must not reach the callback
	cfg.Store.Backend = "postgres"
	writeConfigFile(t, configPath, cfg)

	select {
	case next := <-reloaded:
		t.Fatalf("invalid config was applied: backend %s", next.Store.Backend)
	case <-time.After(time.Second):
	}
}

func TestWatcherStop(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "linkcap.json")
	writeConfigFile(t, configPath, validConfig())

	w, err := NewWatcher(WatcherConfig{
		ConfigPath: configPath,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Stop())
}
