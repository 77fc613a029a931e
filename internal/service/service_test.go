package service

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkcap/linkcap/internal/config"
	"github.com/linkcap/linkcap/internal/logger"
)

// createTestService creates a service wired against the in-memory store
func createTestService(t *testing.T) (*Service, *logger.Logger) {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Browserbase.APIKey = "bb_test_key"
	cfg.Browserbase.ProjectID = "proj-test"
	cfg.Webhook.WorkflowURL = "https://hooks.example.com/ingest"
	cfg.Server.Port = 18743 // avoid colliding with a locally running instance

	logCfg := logger.Config{
		Level:   "info",
		Console: false,
	}
	log, err := logger.New(logCfg)
	require.NoError(t, err)

	svc, err := New(cfg, log, "")
	require.NoError(t, err)

	return svc, log
}

func TestNew(t *testing.T) {
	svc, log := createTestService(t)
	defer log.Close()

	assert.NotNil(t, svc)
	assert.NotNil(t, svc.store)
	assert.NotNil(t, svc.gateway)
	assert.NotNil(t, svc.dispatcher)
	assert.NotNil(t, svc.coordinator)
	assert.NotNil(t, svc.janitor)
	assert.NotNil(t, svc.apiServer)
	assert.NotNil(t, svc.lifecycle)
	assert.Nil(t, svc.watcher, "no watcher without a config path")
}

func TestServiceStartStop(t *testing.T) {
	svc, log := createTestService(t)
	defer log.Close()

	// Start service
	err := svc.Start()
	require.NoError(t, err)

	// Check status
	status := svc.Status()
	assert.True(t, status.Running)

	// Wait a bit
	time.Sleep(100 * time.Millisecond)

	// Stop service
	err = svc.Stop()
	require.NoError(t, err)

	// Check status
	status = svc.Status()
	assert.False(t, status.Running)
}

func TestServiceStatus(t *testing.T) {
	svc, log := createTestService(t)
	defer log.Close()

	// Status before start
	status := svc.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	// Start service
	err := svc.Start()
	require.NoError(t, err)
	defer svc.Stop()

	// Status after start
	time.Sleep(100 * time.Millisecond)
	status = svc.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestServiceApplyReload(t *testing.T) {
	svc, log := createTestService(t)
	defer log.Close()

	updated := config.DefaultConfig()
	updated.Logging.Level = "debug"
	svc.applyReload(updated)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	// An invalid level is ignored, not fatal
	updated.Logging.Level = "chatty"
	svc.applyReload(updated)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, svc.logger.SetLevel("info"))
}

func TestServiceGetters(t *testing.T) {
	svc, log := createTestService(t)
	defer log.Close()

	assert.NotNil(t, svc.GetConfig())
	assert.NotNil(t, svc.GetLogger())
	assert.NotNil(t, svc.GetCoordinator())
}
