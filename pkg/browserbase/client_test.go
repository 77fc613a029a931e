package browserbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, err := New(Config{APIKey: "test-key"})
		require.NoError(t, err)
		assert.Equal(t, DefaultBaseURL, client.baseURL)
		assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	})

	t.Run("trims base URL", func(t *testing.T) {
		client, err := New(Config{APIKey: "test-key", BaseURL: "https://example.com/"})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", client.baseURL)
	})
}

func TestCreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BB-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "proj-1", req.ProjectID)
		assert.True(t, req.KeepAlive)
		assert.True(t, req.Proxies)
		require.NotNil(t, req.BrowserSettings)
		require.NotNil(t, req.BrowserSettings.Viewport)
		assert.Equal(t, 1920, req.BrowserSettings.Viewport.Width)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Session{
			ID:         "bb-session-1",
			ProjectID:  "proj-1",
			Status:     StatusRunning,
			ConnectURL: "wss://connect.example/bb-session-1",
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	session, err := client.CreateSession(context.Background(), CreateSessionRequest{
		ProjectID: "proj-1",
		BrowserSettings: &BrowserSettings{
			Viewport:      &Viewport{Width: 1920, Height: 1080},
			SolveCaptchas: true,
			RecordSession: true,
			LogSession:    true,
			BlockAds:      true,
		},
		KeepAlive: true,
		Proxies:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "bb-session-1", session.ID)
	assert.Equal(t, StatusRunning, session.Status)
	assert.Equal(t, "wss://connect.example/bb-session-1", session.ConnectURL)
}

func TestGetSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/v1/sessions/bb-session-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BB-API-Key"))

		_ = json.NewEncoder(w).Encode(Session{
			ID:     "bb-session-1",
			Status: StatusRunning,
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	session, err := client.GetSession(context.Background(), "bb-session-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, session.Status)
}

func TestGetDebugLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/bb-session-1/debug", r.URL.Path)

		_ = json.NewEncoder(w).Encode(DebugLinks{
			DebuggerFullscreenURL: "https://debug.example/fullscreen",
			DebuggerURL:           "https://debug.example/devtools",
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	links, err := client.GetDebugLinks(context.Background(), "bb-session-1")
	require.NoError(t, err)
	assert.Equal(t, "https://debug.example/fullscreen", links.DebuggerFullscreenURL)
}

func TestListSessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "RUNNING", r.URL.Query().Get("status"))

		_ = json.NewEncoder(w).Encode([]Session{
			{ID: "bb-1", Status: StatusRunning},
			{ID: "bb-2", Status: StatusRunning},
		})
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	sessions, err := client.ListSessions(context.Background(), StatusRunning)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"session not found"}`))
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.GetSession(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, apiErr.NotFound())
	assert.Contains(t, apiErr.Error(), "404")
}

func TestServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.ListSessions(context.Background(), "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.NotFound())
}
