package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid browserbase key", func(t *testing.T) {
		err := v.ValidateAPIKey("bb_test123", "browserbase")
		assert.NoError(t, err)
	})

	t.Run("invalid browserbase key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "browserbase")
		assert.Error(t, err)
	})

	t.Run("unknown provider accepts any non-empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("whatever", "webhook")
		assert.NoError(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("", "browserbase")
		assert.Error(t, err)
	})
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	t.Run("valid https url", func(t *testing.T) {
		err := v.ValidateURL("https://hooks.example.com/ingest", "workflow URL")
		assert.NoError(t, err)
	})

	t.Run("valid http url", func(t *testing.T) {
		err := v.ValidateURL("http://localhost:3000/hook", "workflow URL")
		assert.NoError(t, err)
	})

	t.Run("missing scheme", func(t *testing.T) {
		err := v.ValidateURL("hooks.example.com/ingest", "workflow URL")
		assert.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		err := v.ValidateURL("ftp://example.com/file", "workflow URL")
		assert.Error(t, err)
	})

	t.Run("empty url", func(t *testing.T) {
		err := v.ValidateURL("", "workflow URL")
		assert.Error(t, err)
	})
}

func TestValidateBackend(t *testing.T) {
	v := NewValidator()

	t.Run("valid backends", func(t *testing.T) {
		backends := []string{"memory", "redis", "sqlite"}
		for _, backend := range backends {
			err := v.ValidateBackend(backend)
			assert.NoError(t, err, "backend %s should be valid", backend)
		}
	})

	t.Run("invalid backend", func(t *testing.T) {
		err := v.ValidateBackend("postgres")
		assert.Error(t, err)
	})

	t.Run("empty backend", func(t *testing.T) {
		err := v.ValidateBackend("")
		assert.Error(t, err)
	})
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	t.Run("valid schedules", func(t *testing.T) {
		schedules := []string{"*/10 * * * *", "0 3 * * *", "* * * * *"}
		for _, schedule := range schedules {
			err := v.ValidateSchedule(schedule)
			assert.NoError(t, err, "schedule %s should be valid", schedule)
		}
	})

	t.Run("empty schedule", func(t *testing.T) {
		err := v.ValidateSchedule("")
		assert.NoError(t, err) // Empty falls back to the default
	})

	t.Run("invalid schedule", func(t *testing.T) {
		err := v.ValidateSchedule("not a schedule")
		assert.Error(t, err)
	})

	t.Run("seconds field rejected", func(t *testing.T) {
		err := v.ValidateSchedule("*/30 * * * * *")
		assert.Error(t, err)
	})
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		levels := []string{"debug", "info", "warn", "error"}
		for _, level := range levels {
			err := v.ValidateLogLevel(level)
			assert.NoError(t, err, "level %s should be valid", level)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		err := v.ValidateLogLevel("invalid")
		assert.Error(t, err)
	})
}

func TestValidateSessionTTL(t *testing.T) {
	v := NewValidator()

	t.Run("valid ttl", func(t *testing.T) {
		err := v.ValidateSessionTTL(900)
		assert.NoError(t, err)
	})

	t.Run("zero ttl", func(t *testing.T) {
		err := v.ValidateSessionTTL(0)
		assert.Error(t, err)
	})

	t.Run("negative ttl", func(t *testing.T) {
		err := v.ValidateSessionTTL(-60)
		assert.Error(t, err)
	})

	t.Run("ttl above one day", func(t *testing.T) {
		err := v.ValidateSessionTTL(172800)
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		cfg := validConfig()

		errors := v.ValidateConfig(cfg)
		assert.Empty(t, errors)
	})

	t.Run("multiple errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Browserbase.APIKey = "invalid-key"
		cfg.Store.Backend = "postgres"
		cfg.Logging.Level = "invalid"

		errors := v.ValidateConfig(cfg)
		assert.NotEmpty(t, errors)
		assert.GreaterOrEqual(t, len(errors), 3)
	})
}
