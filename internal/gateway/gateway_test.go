package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := New(Config{
		APIKey:    "bb_test_key",
		ProjectID: "proj-123",
		BaseURL:   srv.URL,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	return g
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{ProjectID: "proj-123"})
	assert.Error(t, err)

	_, err = New(Config{APIKey: "bb_test_key"})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	g, err := New(Config{APIKey: "bb_test_key", ProjectID: "proj-123", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.Equal(t, 15*time.Second, g.cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, g.cfg.BrowserTimeout)
	assert.Equal(t, 5*time.Minute, g.cfg.ConnIdleTTL)
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, "proj-123", body["projectId"])
		assert.Equal(t, true, body["keepAlive"])
		assert.Equal(t, true, body["proxies"])

		settings, ok := body["browserSettings"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, false, settings["advancedStealth"])
		assert.Equal(t, true, settings["solveCaptchas"])
		assert.Equal(t, true, settings["recordSession"])
		assert.Equal(t, true, settings["logSession"])
		assert.Equal(t, true, settings["blockAds"])

		viewport, ok := settings["viewport"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1920), viewport["width"])
		assert.Equal(t, float64(1080), viewport["height"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "remote-abc",
			"status": "RUNNING",
		})
	})
	mux.HandleFunc("/v1/sessions/remote-abc/debug", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"debuggerFullscreenUrl": "https://debug.example.com/remote-abc",
		})
	})

	g := newTestGateway(t, mux)

	remote, err := g.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote-abc", remote.ID)
	assert.Equal(t, "https://debug.example.com/remote-abc", remote.DebuggerURL)
}

func TestCreateSessionProviderError(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"quota exceeded"}`, http.StatusTooManyRequests)
	}))

	_, err := g.CreateSession(context.Background())
	assert.ErrorContains(t, err, "create remote session")
}

func TestSessionAlive(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		alive   bool
		wantErr bool
	}{
		{name: "running", status: http.StatusOK, body: `{"id":"r1","status":"RUNNING"}`, alive: true},
		{name: "completed", status: http.StatusOK, body: `{"id":"r1","status":"COMPLETED"}`, alive: false},
		{name: "timed out", status: http.StatusOK, body: `{"id":"r1","status":"TIMED_OUT"}`, alive: false},
		{name: "not found", status: http.StatusNotFound, body: `{"message":"no such session"}`, alive: false},
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			alive, err := g.SessionAlive(context.Background(), "r1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.alive, alive)
		})
	}
}

func TestCheckHealth(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "RUNNING", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))

	assert.NoError(t, g.CheckHealth(context.Background()))
}

func TestCheckHealthUnreachable(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))

	err := g.CheckHealth(context.Background())
	assert.ErrorContains(t, err, "browser provider unreachable")
}

func TestNavigateRejectsDeadSession(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","status":"COMPLETED"}`))
	}))

	err := g.Navigate(context.Background(), "r1", "https://example.com")
	assert.ErrorContains(t, err, "expected RUNNING")
}

func TestGetCookiesRequiresConnectURL(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","status":"RUNNING"}`))
	}))

	_, err := g.GetCookies(context.Background(), "r1")
	assert.ErrorContains(t, err, "no connect URL")
}

func TestGetUserAgentQueriesProvider(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such session"}`, http.StatusNotFound)
	}))

	_, err := g.GetUserAgent(context.Background(), "r1")
	assert.ErrorContains(t, err, "query remote session")
}

func TestCloseIsIdempotent(t *testing.T) {
	g, err := New(Config{APIKey: "bb_test_key", ProjectID: "proj-123", Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}
