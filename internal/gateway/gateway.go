// Package gateway brokers access to remote user-controlled browser sessions.
// It pairs the Browserbase REST API (session lifecycle, debug links, health)
// with CDP connections to the live browser for artifact extraction. CDP
// connections are cached per remote session and reaped when idle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"

	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/pkg/browserbase"
)

// RemoteSession identifies a newly created remote browser session
type RemoteSession struct {
	ID          string
	DebuggerURL string
}

// Config holds gateway configuration
type Config struct {
	APIKey         string
	ProjectID      string
	BaseURL        string        // default: Browserbase production API
	RequestTimeout time.Duration // REST call timeout (default 15s)
	BrowserTimeout time.Duration // CDP operation timeout (default 30s)
	ConnIdleTTL    time.Duration // cached CDP connection lifetime (default 5m)
	Logger         zerolog.Logger
}

// Gateway mediates all remote browser operations
type Gateway struct {
	client *browserbase.Client
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*remoteConn
	closed bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type remoteConn struct {
	browser  *rod.Browser
	lastUsed time.Time
}

// New creates a gateway and its underlying API client
func New(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("browser provider API key is required")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("browser provider project ID is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = 30 * time.Second
	}
	if cfg.ConnIdleTTL <= 0 {
		cfg.ConnIdleTTL = 5 * time.Minute
	}

	client, err := browserbase.New(browserbase.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		client:     client,
		cfg:        cfg,
		log:        cfg.Logger.With().Str("module", "gateway").Logger(),
		conns:      make(map[string]*remoteConn),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	go g.reapIdleConns()

	return g, nil
}

// CreateSession provisions a remote browser session configured for an
// interactive login and returns its debugger URL.
func (g *Gateway) CreateSession(ctx context.Context) (*RemoteSession, error) {
	session, err := g.client.CreateSession(ctx, browserbase.CreateSessionRequest{
		ProjectID: g.cfg.ProjectID,
		BrowserSettings: &browserbase.BrowserSettings{
			Viewport:        &browserbase.Viewport{Width: 1920, Height: 1080},
			AdvancedStealth: false,
			SolveCaptchas:   true,
			RecordSession:   true,
			LogSession:      true,
			BlockAds:        true,
		},
		KeepAlive: true,
		Proxies:   true,
	})
	observability.RecordProviderRequest("create_session", err == nil)
	if err != nil {
		return nil, fmt.Errorf("create remote session: %w", err)
	}

	links, err := g.client.GetDebugLinks(ctx, session.ID)
	observability.RecordProviderRequest("debug_links", err == nil)
	if err != nil {
		return nil, fmt.Errorf("fetch debug links: %w", err)
	}

	g.log.Info().Str("remote_session_id", session.ID).Msg("Remote browser session created")

	return &RemoteSession{
		ID:          session.ID,
		DebuggerURL: links.DebuggerFullscreenURL,
	}, nil
}

// SessionAlive reports whether the remote session still accepts connections.
// A session the provider no longer knows about is dead, not an error.
func (g *Gateway) SessionAlive(ctx context.Context, remoteSessionID string) (bool, error) {
	session, err := g.client.GetSession(ctx, remoteSessionID)
	if err != nil {
		var apiErr *browserbase.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			observability.RecordProviderRequest("get_session", true)
			return false, nil
		}
		observability.RecordProviderRequest("get_session", false)
		return false, fmt.Errorf("query remote session: %w", err)
	}

	observability.RecordProviderRequest("get_session", true)
	return session.Status == browserbase.StatusRunning, nil
}

// CheckHealth verifies the provider API is reachable with valid credentials
func (g *Gateway) CheckHealth(ctx context.Context) error {
	_, err := g.client.ListSessions(ctx, browserbase.StatusRunning)
	observability.RecordProviderRequest("list_sessions", err == nil)
	if err != nil {
		return fmt.Errorf("browser provider unreachable: %w", err)
	}
	return nil
}

// attach returns a cached CDP connection for the remote session or dials a
// new one. The cached browser is not bound to the caller's context so it can
// serve later requests.
func (g *Gateway) attach(ctx context.Context, remoteSessionID, connectURL string) (*rod.Browser, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, errors.New("gateway is closed")
	}
	if conn, ok := g.conns[remoteSessionID]; ok {
		conn.lastUsed = time.Now()
		browser := conn.browser
		g.mu.Unlock()
		return browser, nil
	}
	g.mu.Unlock()

	browser := rod.New().ControlURL(connectURL)

	connectCtx, cancel := context.WithTimeout(ctx, g.cfg.BrowserTimeout)
	err := browser.Context(connectCtx).Connect()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("connect to remote browser: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		_ = browser.Close()
		return nil, errors.New("gateway is closed")
	}
	g.conns[remoteSessionID] = &remoteConn{browser: browser, lastUsed: time.Now()}

	g.log.Debug().Str("remote_session_id", remoteSessionID).Msg("CDP connection established")
	return browser, nil
}

// drop discards the cached connection for the remote session
func (g *Gateway) drop(remoteSessionID string) {
	g.mu.Lock()
	conn, ok := g.conns[remoteSessionID]
	if ok {
		delete(g.conns, remoteSessionID)
	}
	g.mu.Unlock()

	if ok {
		_ = conn.browser.Close()
	}
}

func (g *Gateway) reapIdleConns() {
	defer close(g.reaperDone)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.reaperStop:
			return
		case <-ticker.C:
			g.reapOnce(time.Now())
		}
	}
}

func (g *Gateway) reapOnce(now time.Time) {
	var stale []*remoteConn

	g.mu.Lock()
	for id, conn := range g.conns {
		if now.Sub(conn.lastUsed) > g.cfg.ConnIdleTTL {
			stale = append(stale, conn)
			delete(g.conns, id)
		}
	}
	g.mu.Unlock()

	for _, conn := range stale {
		_ = conn.browser.Close()
	}

	if len(stale) > 0 {
		g.log.Debug().Int("count", len(stale)).Msg("Reaped idle CDP connections")
	}
}

// Close shuts down the reaper and all cached CDP connections
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conns := g.conns
	g.conns = make(map[string]*remoteConn)
	g.mu.Unlock()

	close(g.reaperStop)
	<-g.reaperDone

	for _, conn := range conns {
		_ = conn.browser.Close()
	}
	return nil
}
