// Package capture defines the artifacts pulled out of a live remote browser
// session and the pure derivations over them.
//
// Invariants:
// - Derivations are side-effect free; no I/O happens in this package.
// - Summary never contains raw secret values, only presence and length metadata.
// - Payload is the only carrier of the raw auth token and is never persisted.
package capture

import (
	"time"
)

// AuthCookieName is the name of the auth cookie this service captures.
const AuthCookieName = "li_at"

// Cookie represents a browser cookie as reported by the remote session.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"httpOnly"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"sameSite,omitempty"`
}

// Artifacts is the raw material extracted from the remote session.
type Artifacts struct {
	Cookies   []Cookie
	UserAgent string
}

// Summary is the caller-visible, persistable digest of a capture. Absence of
// the auth cookie is a valid outcome, reported rather than raised.
type Summary struct {
	AuthCookiePresent bool `json:"li_at_present"`
	UserAgentLength   int  `json:"userAgent_length"`
}

// Payload is the delivery body for the downstream consumer. It carries the raw
// token value and the full cookie set; it exists only for the duration of a
// single dispatch.
type Payload struct {
	SessionID string   `json:"session_id"`
	AuthToken string   `json:"li_at,omitempty"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

// AuthCookie locates the auth cookie in the extracted cookie list.
func AuthCookie(cookies []Cookie) (value string, present bool) {
	for _, c := range cookies {
		if c.Name == AuthCookieName {
			return c.Value, true
		}
	}
	return "", false
}

// Summarize derives the summary for a set of artifacts.
func Summarize(a Artifacts) Summary {
	_, present := AuthCookie(a.Cookies)
	return Summary{
		AuthCookiePresent: present,
		UserAgentLength:   len(a.UserAgent),
	}
}

// BuildPayload assembles the delivery payload for a session's artifacts.
func BuildPayload(sessionID string, a Artifacts) Payload {
	token, _ := AuthCookie(a.Cookies)
	return Payload{
		SessionID: sessionID,
		AuthToken: token,
		Cookies:   a.Cookies,
		UserAgent: a.UserAgent,
	}
}
