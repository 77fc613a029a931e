package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/linkcap/linkcap/internal/capture"
	"github.com/linkcap/linkcap/internal/observability"
	"github.com/linkcap/linkcap/pkg/browserbase"
)

// Navigate drives the remote session's page to url with retry logic (up to
// 3 attempts). The page is left open; the session stays alive for the user
// or the provider to act on.
func (g *Gateway) Navigate(ctx context.Context, remoteSessionID, url string) error {
	page, err := g.pageFor(ctx, remoteSessionID)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		navPage := page.Context(ctx).Timeout(g.cfg.BrowserTimeout)

		err := navPage.Navigate(url)
		if err == nil {
			err = navPage.WaitLoad()
			if err == nil {
				g.log.Debug().
					Str("remote_session_id", remoteSessionID).
					Str("url", url).
					Int("attempt", attempt).
					Msg("Navigation complete")
				return nil
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			g.drop(remoteSessionID)
			return fmt.Errorf("navigate to %s: %w", url, ctx.Err())
		}
		if attempt < 3 {
			time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}

	g.drop(remoteSessionID)
	return fmt.Errorf("navigate to %s after 3 attempts: %w", url, lastErr)
}

// GetCookies reads all cookies visible to the remote session's page
func (g *Gateway) GetCookies(ctx context.Context, remoteSessionID string) ([]capture.Cookie, error) {
	page, err := g.pageFor(ctx, remoteSessionID)
	if err != nil {
		return nil, err
	}

	raw, err := page.Context(ctx).Timeout(g.cfg.BrowserTimeout).Cookies([]string{})
	if err != nil {
		g.drop(remoteSessionID)
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	cookies := make([]capture.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, capture.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  time.Unix(int64(c.Expires), 0),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

// GetUserAgent reads the user agent string the remote browser presents
func (g *Gateway) GetUserAgent(ctx context.Context, remoteSessionID string) (string, error) {
	page, err := g.pageFor(ctx, remoteSessionID)
	if err != nil {
		return "", err
	}

	ua, err := page.Context(ctx).Timeout(g.cfg.BrowserTimeout).Eval(`() => navigator.userAgent`)
	if err != nil {
		g.drop(remoteSessionID)
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return ua.Value.String(), nil
}

// pageFor returns the active page of the remote session, attaching over CDP
// on first use. Cached connections skip the provider round trip.
func (g *Gateway) pageFor(ctx context.Context, remoteSessionID string) (*rod.Page, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, errors.New("gateway is closed")
	}
	conn, ok := g.conns[remoteSessionID]
	if ok {
		conn.lastUsed = time.Now()
		browser := conn.browser
		g.mu.Unlock()
		return g.activePage(browser)
	}
	g.mu.Unlock()

	session, err := g.client.GetSession(ctx, remoteSessionID)
	observability.RecordProviderRequest("get_session", err == nil)
	if err != nil {
		return nil, fmt.Errorf("query remote session: %w", err)
	}
	if session.Status != browserbase.StatusRunning {
		return nil, fmt.Errorf("remote session is %s, expected %s", session.Status, browserbase.StatusRunning)
	}
	if session.ConnectURL == "" {
		return nil, errors.New("remote session has no connect URL")
	}

	browser, err := g.attach(ctx, remoteSessionID, session.ConnectURL)
	if err != nil {
		return nil, err
	}
	return g.activePage(browser)
}

// activePage returns the page the user is driving, or a fresh one when the
// remote browser has none open.
func (g *Gateway) activePage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) > 0 {
		return pages.First(), nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}
