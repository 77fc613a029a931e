package session

import (
	"time"

	"github.com/linkcap/linkcap/internal/capture"
)

// State is the lifecycle state of a capture session.
type State string

const (
	// StateCreated is the transient state between ID generation and the first
	// store write. It is never observed by finalize.
	StateCreated State = "CREATED"
	// StateAwaitingLogin means the remote session is live and waiting for the
	// user to authenticate.
	StateAwaitingLogin State = "AWAITING_LOGIN"
	// StateFinalized means the artifacts were captured and delivered. Terminal.
	StateFinalized State = "FINALIZED"
	// StateExpired means the session outlived its TTL before finalize. Terminal.
	StateExpired State = "EXPIRED"
	// StateFailed means the remote session became terminally unusable. Terminal.
	StateFailed State = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateFinalized, StateExpired, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateAwaitingLogin, StateFinalized, StateExpired, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether the move from s to next is allowed. Transitions
// are monotonic and one-directional; EXPIRED is reachable from any non-terminal
// state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateExpired {
		return true
	}
	switch s {
	case StateCreated:
		return next == StateAwaitingLogin
	case StateAwaitingLogin:
		return next == StateFinalized || next == StateFailed
	}
	return false
}

// Record is the persistent view of one capture workflow instance. The store
// key is SessionID; there is exactly one record per ID.
type Record struct {
	SessionID       string           `json:"session_id"`
	RemoteSessionID string           `json:"remote_session_id"`
	State           State            `json:"state"`
	DebuggerURL     string           `json:"debugger_url,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	FinalizedAt     *time.Time       `json:"finalized_at,omitempty"`
	CapturedSummary *capture.Summary `json:"captured_summary,omitempty"`
}

// NewRecord creates a record in the initial state.
func NewRecord(sessionID string) Record {
	return Record{
		SessionID: sessionID,
		State:     StateCreated,
		CreatedAt: time.Now().UTC(),
	}
}

// ExpiredBy reports whether the record has outlived ttl at the given instant.
// Terminal records never expire further; a zero ttl disables logical expiry.
func (r Record) ExpiredBy(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || r.State.Terminal() {
		return false
	}
	return !now.Before(r.CreatedAt.Add(ttl))
}

// withExpiry returns the record as observed at now: past-TTL non-terminal
// records read as EXPIRED without being rewritten.
func withExpiry(r Record, now time.Time, ttl time.Duration) Record {
	if r.ExpiredBy(now, ttl) {
		r.State = StateExpired
	}
	return r
}
