package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linkcap/linkcap/internal/capture"
	"github.com/linkcap/linkcap/internal/session"
)

// Response messages. The wording is part of the API contract; clients and
// runbooks match on it.
const (
	bannerMessage   = "LinkedIn Session Capture API is running."
	startMessage    = "Session created. Please use the debugger URL to log in."
	finalizeMessage = "Session finalized successfully."

	statusReadyForLogin = "ready_for_login"
)

type startResponse struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	DebuggerURL string `json:"debugger_url"`
	Status      string `json:"status"`
}

type finalizeRequest struct {
	SessionID string `json:"session_id"`
}

type finalizeResponse struct {
	Message      string          `json:"message"`
	CapturedData capture.Summary `json:"captured_data"`
}

type errorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// handleRoot serves the service banner
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "NotFound", "no such route")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": bannerMessage})
}

// handleHealth reports per-dependency health. The endpoint itself always
// answers 200; a degraded dependency shows up in the body, not the status
// code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}

	report := s.coordinator.Health(r.Context())
	writeJSON(w, http.StatusOK, report)
}

// handleStartSession creates a remote browser session for the user to log
// in to
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}

	result, err := s.coordinator.Start(r.Context())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Message:     startMessage,
		SessionID:   result.SessionID,
		DebuggerURL: result.DebuggerURL,
		Status:      statusReadyForLogin,
	})
}

// handleFinalizeSession captures the session's artifacts and delivers them
// downstream
func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "request body must be JSON with a session_id field")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "session_id is required")
		return
	}

	result, err := s.coordinator.Finalize(r.Context(), req.SessionID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, finalizeResponse{
		Message:      finalizeMessage,
		CapturedData: result.Summary,
	})
}

// statusForKind maps coordinator error kinds to HTTP status codes
func statusForKind(kind string) int {
	switch kind {
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindInvalidState, session.KindConcurrentFinalize:
		return http.StatusConflict
	case session.KindDeliveryFailed:
		return http.StatusBadGateway
	case session.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	if kind == "" {
		kind = "Internal"
	}

	detail := err.Error()
	var se *session.Error
	if errors.As(err, &se) {
		detail = se.Message
	}

	writeError(w, statusForKind(kind), kind, detail)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Kind: kind, Detail: detail}})
}
