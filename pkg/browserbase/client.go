package browserbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production Browserbase API endpoint
const DefaultBaseURL = "https://api.browserbase.com"

const apiKeyHeader = "X-BB-API-Key"

// Client talks to the Browserbase REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client configuration
type Config struct {
	APIKey  string
	BaseURL string        // default: DefaultBaseURL
	Timeout time.Duration // default: 30s
}

// New creates a new Browserbase API client
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("browserbase API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateSession creates a new remote browser session
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var session Session
	if err := c.do(ctx, "POST", "/v1/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, "GET", "/v1/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetDebugLinks retrieves the live-view URLs for a session
func (c *Client) GetDebugLinks(ctx context.Context, sessionID string) (*DebugLinks, error) {
	var links DebugLinks
	if err := c.do(ctx, "GET", "/v1/sessions/"+url.PathEscape(sessionID)+"/debug", nil, &links); err != nil {
		return nil, err
	}
	return &links, nil
}

// ListSessions lists sessions, optionally filtered by status
func (c *Client) ListSessions(ctx context.Context, status SessionStatus) ([]Session, error) {
	path := "/v1/sessions"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}

	var sessions []Session
	if err := c.do(ctx, "GET", path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
