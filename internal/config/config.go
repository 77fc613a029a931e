// Package config defines the linkcap configuration schema along with
// defaults, validation, file loading, and live reload of tunable values.
package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the complete application configuration
type Config struct {
	// Server holds HTTP API server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Browserbase holds browser provider credentials
	Browserbase BrowserbaseConfig `json:"browserbase" mapstructure:"browserbase"`

	// Gateway holds browser gateway timeout settings
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Capture holds capture navigation targets
	Capture CaptureConfig `json:"capture" mapstructure:"capture"`

	// Store holds session store settings
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Webhook holds payload delivery settings
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Janitor holds background sweep settings
	Janitor JanitorConfig `json:"janitor" mapstructure:"janitor"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is the directory for runtime state (PID file, logs, sqlite db)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	ShutdownTimeout    int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// BrowserbaseConfig holds browser provider credentials
type BrowserbaseConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	ProjectID string `json:"project_id" mapstructure:"project_id"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
}

// GatewayConfig holds browser gateway timeout settings
type GatewayConfig struct {
	RequestTimeout int `json:"request_timeout" mapstructure:"request_timeout"` // seconds, provider REST calls
	BrowserTimeout int `json:"browser_timeout" mapstructure:"browser_timeout"` // seconds, CDP operations
	ConnIdleTTL    int `json:"conn_idle_ttl" mapstructure:"conn_idle_ttl"`     // seconds, cached CDP connections
}

// CaptureConfig holds capture navigation targets
type CaptureConfig struct {
	LoginURL  string `json:"login_url" mapstructure:"login_url"`
	VerifyURL string `json:"verify_url" mapstructure:"verify_url"`
}

// StoreConfig holds session store settings
type StoreConfig struct {
	Backend    string      `json:"backend" mapstructure:"backend"`         // memory, redis, sqlite
	SessionTTL int         `json:"session_ttl" mapstructure:"session_ttl"` // seconds
	Redis      RedisConfig `json:"redis" mapstructure:"redis"`
	SQLitePath string      `json:"sqlite_path" mapstructure:"sqlite_path"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	PoolSize int    `json:"pool_size" mapstructure:"pool_size"`
}

// WebhookConfig holds payload delivery settings
type WebhookConfig struct {
	WorkflowURL string `json:"workflow_url" mapstructure:"workflow_url"`
	APIKey      string `json:"api_key" mapstructure:"api_key"`
	Timeout     int    `json:"timeout" mapstructure:"timeout"` // seconds, per attempt
	MaxAttempts int    `json:"max_attempts" mapstructure:"max_attempts"`
}

// JanitorConfig holds background sweep settings
type JanitorConfig struct {
	Schedule     string `json:"schedule" mapstructure:"schedule"`           // cron expression
	RetentionAge int    `json:"retention_age" mapstructure:"retention_age"` // seconds
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RateLimitPerMinute: 100,
			ShutdownTimeout:    30,
		},
		Browserbase: BrowserbaseConfig{
			BaseURL: "https://api.browserbase.com",
		},
		Gateway: GatewayConfig{
			RequestTimeout: 15,
			BrowserTimeout: 30,
			ConnIdleTTL:    300,
		},
		Capture: CaptureConfig{
			LoginURL:  "https://www.linkedin.com/login",
			VerifyURL: "https://www.linkedin.com/feed/",
		},
		Store: StoreConfig{
			Backend:    "memory",
			SessionTTL: 900,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Webhook: WebhookConfig{
			Timeout:     15,
			MaxAttempts: 3,
		},
		Janitor: JanitorConfig{
			Schedule:     "*/10 * * * *",
			RetentionAge: 86400,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Browser provider credentials are required to create sessions
	if c.Browserbase.APIKey == "" {
		return fmt.Errorf("browserbase api_key is required")
	}
	if c.Browserbase.ProjectID == "" {
		return fmt.Errorf("browserbase project_id is required")
	}

	// Validate server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server rate_limit_per_minute must be >= 0")
	}

	// Validate gateway timeouts
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway request_timeout must be > 0 seconds")
	}
	if c.Gateway.BrowserTimeout <= 0 {
		return fmt.Errorf("gateway browser_timeout must be > 0 seconds")
	}

	// Validate capture targets
	if c.Capture.LoginURL == "" {
		return fmt.Errorf("capture login_url is required")
	}
	if c.Capture.VerifyURL == "" {
		return fmt.Errorf("capture verify_url is required")
	}

	// Validate store
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("invalid store backend: %s (must be: memory, redis, sqlite)", c.Store.Backend)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("store session_ttl must be > 0 seconds")
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store redis addr is required when backend is redis")
	}

	// Validate webhook delivery
	if c.Webhook.WorkflowURL == "" {
		return fmt.Errorf("webhook workflow_url is required")
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook timeout must be > 0 seconds")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook max_attempts must be > 0")
	}

	// Validate janitor
	if c.Janitor.RetentionAge <= 0 {
		return fmt.Errorf("janitor retention_age must be > 0 seconds")
	}

	// Validate logging
	if err := NewValidator().ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}
