// Package httpapi exposes the capture workflow over HTTP: session start,
// session finalize, health, and metrics. The handlers stay thin; every
// decision lives in the Coordinator.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/internal/session"
	"github.com/linkcap/linkcap/internal/tracing"
)

// Coordinator is the workflow surface the HTTP layer exposes.
type Coordinator interface {
	Start(ctx context.Context) (*session.StartResult, error)
	Finalize(ctx context.Context, sessionID string) (*session.FinalizeResult, error)
	Health(ctx context.Context) session.HealthReport
}

// ServerOptions configures the HTTP server
type ServerOptions struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
}

// Server is the capture API HTTP server
type Server struct {
	options        ServerOptions
	server         *http.Server
	coordinator    Coordinator
	rateLimiter    *RateLimiter
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(options ServerOptions, coordinator Coordinator, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	return &Server{
		options:     options,
		coordinator: coordinator,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      logger.With().Str("module", "httpapi").Logger(),
		startTime:   time.Now(),
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withCommon(s.handleRoot, false))
	mux.HandleFunc("/health", s.withCommon(s.handleHealth, false))
	mux.HandleFunc("/start-session", s.withCommon(s.handleStartSession, true))
	mux.HandleFunc("/finalize-session", s.withCommon(s.handleFinalizeSession, true))
	mux.Handle("/metrics", observability.MetricsHandler())

	return mux
}

// Start starts the server and blocks until shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server, letting in-flight requests finish
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// withCommon applies the request pipeline shared by every route: shutdown
// gate, in-flight tracking, request identity, panic recovery, optional rate
// limiting, access logging, metrics.
func (s *Server) withCommon(next http.HandlerFunc, rateLimited bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		ctx := tracing.NewRequestContext(r.Context())
		r = r.WithContext(ctx)
		log := tracing.LoggerFromContext(ctx, s.logger)

		ip := s.getClientIP(r)
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic in request handler")
				writeError(rw, http.StatusInternalServerError, "Internal", "internal server error")
			}

			duration := time.Since(startTime)
			observability.RecordHTTPRequest(r.URL.Path, r.Method, rw.status, duration)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("ip", ip).
				Int("status", rw.status).
				Int64("duration_ms", duration.Milliseconds()).
				Msg("Request completed")
		}()

		if rateLimited && !s.rateLimiter.CheckLimit(ip) {
			retryAfter := s.rateLimiter.GetRetryAfter(ip)
			log.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")

			rw.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(rw, http.StatusTooManyRequests, "RateLimited", "too many requests")
			return
		}

		next(rw, r)
	}
}

// getClientIP extracts the client IP from the request
func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wrote {
		return
	}
	r.wrote = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}
