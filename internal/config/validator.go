package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "browserbase":
		if !strings.HasPrefix(key, "bb_") {
			return fmt.Errorf("invalid Browserbase API key format (should start with bb_)")
		}
	}

	return nil
}

// ValidateURL validates that a value is an absolute http(s) URL
func (v *Validator) ValidateURL(raw string, name string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: host is required", name)
	}

	return nil
}

// ValidateBackend validates a store backend name
func (v *Validator) ValidateBackend(backend string) error {
	validBackends := []string{"memory", "redis", "sqlite"}
	for _, valid := range validBackends {
		if backend == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store backend: %s (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateSchedule validates a cron sweep schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Use default
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSessionTTL validates the session TTL
func (v *Validator) ValidateSessionTTL(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("session TTL must be positive, got %d", seconds)
	}
	if seconds > 86400 {
		return fmt.Errorf("session TTL too large (max 86400 seconds), got %d", seconds)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate browser provider credentials
	if err := v.ValidateAPIKey(cfg.Browserbase.APIKey, "browserbase"); err != nil {
		errors = append(errors, err)
	}
	if cfg.Browserbase.ProjectID == "" {
		errors = append(errors, fmt.Errorf("browserbase project_id cannot be empty"))
	}

	// Validate navigation and delivery targets
	if err := v.ValidateURL(cfg.Capture.LoginURL, "capture login_url"); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateURL(cfg.Capture.VerifyURL, "capture verify_url"); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateURL(cfg.Webhook.WorkflowURL, "webhook workflow_url"); err != nil {
		errors = append(errors, err)
	}

	// Validate store
	if err := v.ValidateBackend(cfg.Store.Backend); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSessionTTL(cfg.Store.SessionTTL); err != nil {
		errors = append(errors, err)
	}
	if cfg.Store.Backend == "redis" && cfg.Store.Redis.Addr == "" {
		errors = append(errors, fmt.Errorf("store.redis.addr is required when backend is redis"))
	}

	// Validate gateway timeouts
	if cfg.Gateway.RequestTimeout <= 0 {
		errors = append(errors, fmt.Errorf("gateway.request_timeout must be > 0"))
	}
	if cfg.Gateway.BrowserTimeout <= 0 {
		errors = append(errors, fmt.Errorf("gateway.browser_timeout must be > 0"))
	}

	// Validate janitor
	if err := v.ValidateSchedule(cfg.Janitor.Schedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Janitor.RetentionAge <= 0 {
		errors = append(errors, fmt.Errorf("janitor.retention_age must be > 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
