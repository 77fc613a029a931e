// Package browserbase is a minimal client for the Browserbase REST API,
// covering session creation, retrieval, debug links and listing.
package browserbase

import (
	"fmt"
	"time"
)

// SessionStatus represents the current state of a remote browser session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusError     SessionStatus = "ERROR"
	StatusTimedOut  SessionStatus = "TIMED_OUT"
)

// Session represents a remote browser instance
type Session struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"projectId"`
	Status     SessionStatus `json:"status"`
	Region     string        `json:"region,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	ExpiresAt  time.Time     `json:"expiresAt"`
	KeepAlive  bool          `json:"keepAlive"`
	ContextID  string        `json:"contextId,omitempty"`
	ConnectURL string        `json:"connectUrl,omitempty"`
}

// Viewport sets the browser window dimensions
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BrowserSettings configures the remote browser
type BrowserSettings struct {
	Viewport        *Viewport `json:"viewport,omitempty"`
	AdvancedStealth bool      `json:"advancedStealth"`
	SolveCaptchas   bool      `json:"solveCaptchas"`
	RecordSession   bool      `json:"recordSession"`
	LogSession      bool      `json:"logSession"`
	BlockAds        bool      `json:"blockAds"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	ProjectID       string           `json:"projectId"`
	BrowserSettings *BrowserSettings `json:"browserSettings,omitempty"`
	KeepAlive       bool             `json:"keepAlive,omitempty"`
	Proxies         bool             `json:"proxies,omitempty"`
	Region          string           `json:"region,omitempty"`
	Timeout         int              `json:"timeout,omitempty"`
}

// DebugLinks holds the live-view URLs for a session
type DebugLinks struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
	WSURL                 string `json:"wsUrl,omitempty"`
}

// APIError is a non-2xx response from the Browserbase API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browserbase API error (status %d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a 404
func (e *APIError) NotFound() bool {
	return e.StatusCode == 404
}
