package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linkcap/linkcap/internal/capture"
	"github.com/linkcap/linkcap/internal/gateway"
	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/internal/tracing"
)

// Gateway is the remote browser surface the coordinator drives.
type Gateway interface {
	CreateSession(ctx context.Context) (*gateway.RemoteSession, error)
	Navigate(ctx context.Context, remoteSessionID, url string) error
	GetCookies(ctx context.Context, remoteSessionID string) ([]capture.Cookie, error)
	GetUserAgent(ctx context.Context, remoteSessionID string) (string, error)
	SessionAlive(ctx context.Context, remoteSessionID string) (bool, error)
	CheckHealth(ctx context.Context) error
}

// Dispatcher delivers the captured payload downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload capture.Payload) error
}

// CoordinatorConfig tunes the capture workflow.
type CoordinatorConfig struct {
	// LoginURL is where a fresh remote session is pointed for the user to
	// authenticate.
	LoginURL string
	// VerifyURL is where finalize drives the page before reading artifacts.
	VerifyURL string
	// LeaseTTL bounds how long one finalize attempt may exclude others.
	LeaseTTL time.Duration
	Logger   zerolog.Logger
}

const (
	// DefaultLoginURL is the page the user authenticates on.
	DefaultLoginURL = "https://www.linkedin.com/login"
	// DefaultVerifyURL is navigated to before artifact extraction.
	DefaultVerifyURL = "https://www.linkedin.com/feed/"
	// DefaultLeaseTTL bounds a finalize attempt's exclusivity claim.
	DefaultLeaseTTL = 60 * time.Second
)

// StartResult is the outcome of a successful start.
type StartResult struct {
	SessionID   string
	DebuggerURL string
}

// FinalizeResult is the outcome of a successful finalize. Only the summary
// leaves the coordinator; the raw artifacts flow to the dispatcher and die
// with the call.
type FinalizeResult struct {
	Summary capture.Summary
}

// HealthReport describes the coordinator's dependencies, one verdict each.
type HealthReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Coordinator owns the session lifecycle: creating remote browser sessions,
// finalizing them exactly once, and reporting dependency health. All state
// lives in the Store; the coordinator itself is stateless and any instance
// may serve any call.
type Coordinator struct {
	store   Store
	gateway Gateway
	webhook Dispatcher
	cfg     CoordinatorConfig
	urlMu   sync.RWMutex
	log     zerolog.Logger
}

// NewCoordinator wires the workflow around its three dependencies.
func NewCoordinator(store Store, gw Gateway, webhook Dispatcher, cfg CoordinatorConfig) *Coordinator {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	return &Coordinator{
		store:   store,
		gateway: gw,
		webhook: webhook,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("module", "coordinator").Logger(),
	}
}

// SetCaptureURLs retargets the login and verification pages at runtime.
// Empty arguments keep the current target, so a partial config reload
// never blanks a URL.
func (c *Coordinator) SetCaptureURLs(loginURL, verifyURL string) {
	c.urlMu.Lock()
	defer c.urlMu.Unlock()
	if loginURL != "" {
		c.cfg.LoginURL = loginURL
	}
	if verifyURL != "" {
		c.cfg.VerifyURL = verifyURL
	}
}

func (c *Coordinator) loginURL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.cfg.LoginURL
}

func (c *Coordinator) verifyURL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.cfg.VerifyURL
}

// Start provisions a remote browser session and tracks it as AWAITING_LOGIN.
// The caller hands the returned debugger URL to a human; no artifacts exist
// yet.
func (c *Coordinator) Start(ctx context.Context) (*StartResult, error) {
	sessionID := uuid.New().String()
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "coordinator", "session.start",
		attribute.String("session.id", sessionID))
	defer span.End()

	log := tracing.LoggerFromContext(ctx, c.log)

	remote, err := c.gateway.CreateSession(ctx)
	if err != nil {
		observability.RecordSessionStart(false)
		observability.RecordSessionAudit(ctx, "session_started", sessionID, "failure", map[string]interface{}{
			"reason": "provider_create",
		})
		span.RecordError(err)
		return nil, WrapError(KindDependencyUnavailable, "create remote browser session", err)
	}

	// Point the fresh session at the login page. The user can navigate by
	// hand through the debugger, so a failure here only costs convenience.
	if err := c.gateway.Navigate(ctx, remote.ID, c.loginURL()); err != nil {
		log.Warn().Err(err).
			Str("remote_session_id", remote.ID).
			Msg("Could not pre-navigate to login page")
	}

	rec := NewRecord(sessionID)
	rec.RemoteSessionID = remote.ID
	rec.DebuggerURL = remote.DebuggerURL
	rec.State = StateAwaitingLogin

	if err := c.store.Put(ctx, rec); err != nil {
		observability.RecordSessionStart(false)
		observability.RecordSessionAudit(ctx, "session_started", sessionID, "failure", map[string]interface{}{
			"reason": "store_write",
		})
		span.RecordError(err)
		return nil, WrapError(KindDependencyUnavailable, "persist session record", err)
	}

	observability.RecordSessionStart(true)
	observability.RecordSessionAudit(ctx, "session_started", sessionID, "success", map[string]interface{}{
		"remote_session_id": remote.ID,
	})

	log.Info().
		Str("remote_session_id", remote.ID).
		Msg("Capture session started, awaiting login")

	return &StartResult{
		SessionID:   sessionID,
		DebuggerURL: remote.DebuggerURL,
	}, nil
}

// Finalize captures the session's artifacts exactly once: verify the remote
// session is still live, drive it to the verify URL, read cookies and user
// agent, deliver the raw payload downstream, then commit AWAITING_LOGIN →
// FINALIZED. Delivery failure leaves the record AWAITING_LOGIN so the caller
// can retry.
func (c *Coordinator) Finalize(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "coordinator", "session.finalize",
		attribute.String("session.id", sessionID))
	defer span.End()

	log := tracing.LoggerFromContext(ctx, c.log)

	rec, err := c.getActionable(ctx, sessionID)
	if err != nil {
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	token, err := c.store.AcquireLease(ctx, sessionID, c.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			err = NewError(KindConcurrentFinalize, "finalize already in progress for this session")
		} else {
			err = WrapError(KindDependencyUnavailable, "acquire finalize lease", err)
		}
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}
	defer func() {
		// The caller may be gone by now; release on a detached context so
		// the lease never outlives this attempt by its full TTL.
		releaseCtx, cancel := context.WithTimeout(tracing.CloneContext(ctx), 5*time.Second)
		defer cancel()
		if rerr := c.store.ReleaseLease(releaseCtx, sessionID, token); rerr != nil {
			log.Warn().Err(rerr).Msg("Could not release finalize lease")
		}
	}()

	// State may have moved between the first read and the lease grant.
	rec, err = c.getActionable(ctx, sessionID)
	if err != nil {
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	alive, err := c.gateway.SessionAlive(ctx, rec.RemoteSessionID)
	if err != nil {
		err = WrapError(KindDependencyUnavailable, "query remote session status", err)
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}
	if !alive {
		c.failDeadSession(ctx, log, sessionID)
		err = NewError(KindDependencyUnavailable, "remote browser session is no longer available")
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	artifacts, err := c.captureArtifacts(ctx, rec.RemoteSessionID)
	if err != nil {
		err = WrapError(KindDependencyUnavailable, "capture session artifacts", err)
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	summary := capture.Summarize(*artifacts)
	if !summary.AuthCookiePresent {
		log.Warn().Msg("Auth cookie absent from captured session")
	}

	payload := capture.BuildPayload(sessionID, *artifacts)
	if err := c.webhook.Dispatch(ctx, payload); err != nil {
		err = WrapError(KindDeliveryFailed, "deliver captured payload", err)
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	now := time.Now().UTC()
	_, err = c.store.CompareAndTransition(ctx, sessionID, StateAwaitingLogin, StateFinalized, func(r *Record) {
		r.FinalizedAt = &now
		r.CapturedSummary = &summary
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleState):
			err = NewError(KindConcurrentFinalize, "session was finalized by a concurrent request")
		case errors.Is(err, ErrNotFound):
			err = NewError(KindNotFound, "session record disappeared during finalize")
		default:
			err = WrapError(KindDependencyUnavailable, "commit finalized state", err)
		}
		c.rejectFinalize(ctx, span, sessionID, err)
		return nil, err
	}

	observability.RecordSessionFinalized("success")
	observability.RecordSessionAudit(ctx, "session_finalized", sessionID, "success", map[string]interface{}{
		"li_at_present":    summary.AuthCookiePresent,
		"userAgent_length": summary.UserAgentLength,
	})

	log.Info().
		Bool("li_at_present", summary.AuthCookiePresent).
		Int("userAgent_length", summary.UserAgentLength).
		Msg("Session finalized")

	return &FinalizeResult{Summary: summary}, nil
}

// getActionable loads the record and rejects every state finalize cannot act
// on. Expiry is already folded in by the store's lazy TTL check.
func (c *Coordinator) getActionable(ctx context.Context, sessionID string) (Record, error) {
	rec, err := c.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, NewError(KindNotFound, "session not found")
		}
		return Record{}, WrapError(KindDependencyUnavailable, "read session record", err)
	}

	switch rec.State {
	case StateAwaitingLogin:
		return rec, nil
	case StateFinalized:
		return Record{}, NewError(KindInvalidState, "session is already finalized")
	case StateExpired:
		return Record{}, NewError(KindInvalidState, "session expired before finalize")
	case StateFailed:
		return Record{}, NewError(KindInvalidState, "session failed and cannot be finalized")
	default:
		return Record{}, NewError(KindInvalidState, fmt.Sprintf("session is not ready to finalize (state %s)", rec.State))
	}
}

// captureArtifacts drives the page to the verify URL and reads what the
// logged-in user left behind.
func (c *Coordinator) captureArtifacts(ctx context.Context, remoteSessionID string) (*capture.Artifacts, error) {
	start := time.Now()

	if err := c.gateway.Navigate(ctx, remoteSessionID, c.verifyURL()); err != nil {
		return nil, err
	}

	cookies, err := c.gateway.GetCookies(ctx, remoteSessionID)
	if err != nil {
		return nil, err
	}

	userAgent, err := c.gateway.GetUserAgent(ctx, remoteSessionID)
	if err != nil {
		return nil, err
	}

	observability.RecordCapture(time.Since(start))

	return &capture.Artifacts{Cookies: cookies, UserAgent: userAgent}, nil
}

// failDeadSession records that the remote side is gone for good. Losing the
// CAS here is fine; someone else already moved the record.
func (c *Coordinator) failDeadSession(ctx context.Context, log zerolog.Logger, sessionID string) {
	_, err := c.store.CompareAndTransition(ctx, sessionID, StateAwaitingLogin, StateFailed, nil)
	if err != nil && !errors.Is(err, ErrStaleState) && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Msg("Could not mark session failed")
	}
}

// rejectFinalize records a failed finalize attempt in metrics, audit, and the
// active span.
func (c *Coordinator) rejectFinalize(ctx context.Context, span trace.Span, sessionID string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = "Internal"
	}
	span.RecordError(err)
	observability.RecordFinalizeFailure(kind)
	observability.RecordSessionAudit(ctx, "finalize_rejected", sessionID, "failure", map[string]interface{}{
		"kind": kind,
	})
}

// Health checks each dependency independently with a bounded timeout. It
// reports, never fails: a down dependency yields an unhealthy verdict, not
// an error.
func (c *Coordinator) Health(ctx context.Context) HealthReport {
	const perCheckTimeout = 5 * time.Second

	report := HealthReport{
		Status:       "healthy",
		Dependencies: make(map[string]string, 2),
	}

	storeCtx, cancel := context.WithTimeout(ctx, perCheckTimeout)
	storeErr := c.store.Ping(storeCtx)
	cancel()
	report.Dependencies["store"] = verdict(storeErr)
	observability.SetDependencyUp("store", storeErr == nil)

	gwCtx, cancel := context.WithTimeout(ctx, perCheckTimeout)
	gwErr := c.gateway.CheckHealth(gwCtx)
	cancel()
	report.Dependencies["gateway"] = verdict(gwErr)
	observability.SetDependencyUp("gateway", gwErr == nil)

	if storeErr != nil || gwErr != nil {
		report.Status = "degraded"
		c.log.Warn().
			AnErr("store", storeErr).
			AnErr("gateway", gwErr).
			Msg("Dependency health degraded")
	}

	return report
}

func verdict(err error) string {
	if err == nil {
		return "healthy"
	}
	return "unhealthy"
}
