// Package service assembles the linkcap process: session store, browser
// gateway, webhook dispatcher, capture coordinator, janitor, and the HTTP
// API, plus PID lifecycle and config hot reload.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/linkcap/linkcap/internal/config"
	"github.com/linkcap/linkcap/internal/gateway"
	"github.com/linkcap/linkcap/internal/httpapi"
	"github.com/linkcap/linkcap/internal/logger"
	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/internal/session"
	"github.com/linkcap/linkcap/internal/tracing"
	"github.com/linkcap/linkcap/internal/webhook"
)

// Version is the linkcap release version, reported by the CLI and stamped
// into traces.
const Version = "0.1.0"

// Service is the linkcap capture broker process
type Service struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store       session.Store
	gateway     *gateway.Gateway
	dispatcher  *webhook.Dispatcher
	coordinator *session.Coordinator
	janitor     *session.Janitor

	// Services
	apiServer *httpapi.Server
	watcher   *config.Watcher

	// Internal
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new service instance. configPath enables hot reload of the
// tunable settings when non-empty; pass "" to run without a config watcher.
func New(cfg *config.Config, log *logger.Logger, configPath string) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("linkcap", Version); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	s := &Service{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	// Initialize modules in dependency order
	if err := s.initializeModules(configPath); err != nil {
		cancel()
		if s.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			s.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	s.lifecycle = NewLifecycleManager(s)

	return s, nil
}

// initializeModules builds every module in dependency order
func (s *Service) initializeModules(configPath string) error {
	// Audit log lives next to the other data files
	auditPath := filepath.Join(s.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		s.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	store, err := session.NewStore(session.Options{
		Backend:    s.config.Store.Backend,
		SessionTTL: time.Duration(s.config.Store.SessionTTL) * time.Second,
		Redis: session.RedisOptions{
			Addr:     s.config.Store.Redis.Addr,
			Password: s.config.Store.Redis.Password,
			DB:       s.config.Store.Redis.DB,
			PoolSize: s.config.Store.Redis.PoolSize,
		},
		SQLitePath: s.config.Store.SQLitePath,
	})
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	s.store = store
	s.logger.Info().Str("backend", s.config.Store.Backend).Msg("Session store initialized")

	gw, err := gateway.New(gateway.Config{
		APIKey:         s.config.Browserbase.APIKey,
		ProjectID:      s.config.Browserbase.ProjectID,
		BaseURL:        s.config.Browserbase.BaseURL,
		RequestTimeout: time.Duration(s.config.Gateway.RequestTimeout) * time.Second,
		BrowserTimeout: time.Duration(s.config.Gateway.BrowserTimeout) * time.Second,
		ConnIdleTTL:    time.Duration(s.config.Gateway.ConnIdleTTL) * time.Second,
		Logger:         s.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create browser gateway: %w", err)
	}
	s.gateway = gw
	s.logger.Info().Msg("Browser gateway initialized")

	dispatcher, err := webhook.NewDispatcher(webhook.Config{
		URL:         s.config.Webhook.WorkflowURL,
		AuthToken:   s.config.Webhook.APIKey,
		Timeout:     time.Duration(s.config.Webhook.Timeout) * time.Second,
		MaxAttempts: s.config.Webhook.MaxAttempts,
		Logger:      s.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook dispatcher: %w", err)
	}
	s.dispatcher = dispatcher
	s.logger.Info().Msg("Webhook dispatcher initialized")

	s.coordinator = session.NewCoordinator(s.store, s.gateway, s.dispatcher, session.CoordinatorConfig{
		LoginURL:  s.config.Capture.LoginURL,
		VerifyURL: s.config.Capture.VerifyURL,
		Logger:    s.logger.GetZerolog(),
	})
	s.logger.Info().Msg("Capture coordinator initialized")

	janitor, err := session.NewJanitor(s.store, session.JanitorConfig{
		Schedule:     s.config.Janitor.Schedule,
		RetentionAge: time.Duration(s.config.Janitor.RetentionAge) * time.Second,
		Logger:       s.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create session janitor: %w", err)
	}
	s.janitor = janitor
	s.logger.Info().Msg("Session janitor initialized")

	apiServer, err := httpapi.NewServer(httpapi.ServerOptions{
		Host:               s.config.Server.Host,
		Port:               s.config.Server.Port,
		RateLimitPerMinute: s.config.Server.RateLimitPerMinute,
		ShutdownTimeout:    time.Duration(s.config.Server.ShutdownTimeout) * time.Second,
	}, s.coordinator, s.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	s.apiServer = apiServer
	s.logger.Info().Msg("API server initialized")

	if configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			ConfigPath: configPath,
			OnReload:   s.applyReload,
			Logger:     s.logger.GetZerolog(),
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to create config watcher, hot reload disabled")
		} else {
			s.watcher = watcher
			s.logger.Info().Str("path", configPath).Msg("Config watcher initialized")
		}
	}

	return nil
}

// applyReload applies the tunable subset of a changed config file: log level
// and capture URLs. Everything else (ports, backends, credentials) requires a
// restart.
func (s *Service) applyReload(cfg *config.Config) {
	if err := s.logger.SetLevel(cfg.Logging.Level); err != nil {
		s.logger.Warn().Err(err).Str("level", cfg.Logging.Level).Msg("Ignoring invalid log level from reloaded config")
	}

	s.coordinator.SetCaptureURLs(cfg.Capture.LoginURL, cfg.Capture.VerifyURL)

	s.logger.Info().
		Str("log_level", cfg.Logging.Level).
		Str("login_url", cfg.Capture.LoginURL).
		Str("verify_url", cfg.Capture.VerifyURL).
		Msg("Applied reloaded settings")
}

// Start starts the service
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := s.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting linkcap service")

	// Start lifecycle manager
	if err := s.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	// Start session janitor
	if err := s.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start session janitor: %w", err)
	}
	logger.Info().Msg("Session janitor started")

	// Start config watcher if configured
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher, hot reload disabled")
		} else {
			logger.Info().Msg("Config watcher started")
		}
	}

	// Start API server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server exited with error")
		}
	}()

	logger.Info().Msg("Service started successfully - all modules active")

	return nil
}

// Stop stops the service gracefully
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("service is not running")
	}
	s.running = false
	s.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := s.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping linkcap service")

	// Stop config watcher
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	// Stop session janitor
	if s.janitor != nil && s.janitor.IsRunning() {
		if err := s.janitor.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session janitor")
		}
	}

	// Stop API server, letting in-flight requests drain
	if s.apiServer != nil {
		if err := s.apiServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	// Close browser gateway connections
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close browser gateway")
		}
	}

	// Cancel context
	s.cancel()

	// Wait for goroutines to finish (with timeout)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	// Close session store
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close session store")
		}
	}

	// Stop lifecycle manager
	if err := s.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if s.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		s.tracingEnabled = false
	}

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Service stopped successfully")

	return nil
}

// Status returns the service status
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running: s.running,
	}

	if s.running {
		status.Uptime = time.Since(s.startTime)
		status.StartTime = s.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the service
func (s *Service) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	s.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := s.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop service")
	}
}

// GetConfig returns the service configuration
func (s *Service) GetConfig() *config.Config {
	return s.config
}

// GetLogger returns the service logger
func (s *Service) GetLogger() *logger.Logger {
	return s.logger
}

// GetCoordinator returns the capture coordinator
func (s *Service) GetCoordinator() *session.Coordinator {
	return s.coordinator
}

// Status describes the running state of the service
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}
