// ABOUTME: HTTP server wiring the streaming API endpoints and health check
// ABOUTME: Transport handlers own completion tokens and signal exactly once

package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/stream-gateway/internal/auth"
	"github.com/2389/stream-gateway/internal/completion"
	"github.com/2389/stream-gateway/internal/session"
	"github.com/2389/stream-gateway/internal/store"
	"github.com/2389/stream-gateway/internal/transcript"
	"github.com/2389/stream-gateway/internal/workflow"
)

// Server hosts the streaming API. Transport handlers are the outermost layer
// of the completion-ownership chain: they mint one token per workflow when a
// client arrives, and their cleanup path signals completion on every exit.
type Server struct {
	hub         *session.Hub
	dispatcher  *workflow.Dispatcher
	registry    *completion.Registry
	store       store.Store
	broadcaster *transcript.Broadcaster
	tokens      *auth.JWTVerifier
	apiKeys     *auth.APIKeyStore
	model       string
	logger      *slog.Logger
}

// New creates a Server. model names the chat model backing new sessions and
// is recorded on every session the transports create. apiKeys may be nil to
// disable the key-exchange endpoint. Pass nil logger for default.
func New(hub *session.Hub, dispatcher *workflow.Dispatcher, registry *completion.Registry, s store.Store, broadcaster *transcript.Broadcaster, tokens *auth.JWTVerifier, apiKeys *auth.APIKeyStore, model string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:         hub,
		dispatcher:  dispatcher,
		registry:    registry,
		store:       s,
		broadcaster: broadcaster,
		tokens:      tokens,
		apiKeys:     apiKeys,
		model:       model,
		logger:      logger.With("component", "transport"),
	}
}

// Handler builds the route tree. /healthz and the key exchange are
// unauthenticated; everything under /v1 requires a valid JWT.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/stream", s.handleStream)
	api.HandleFunc("POST /v1/sessions/{id}/send", s.handleSend)
	api.HandleFunc("GET /v1/sessions/{id}/stream", s.handleSSE)
	api.HandleFunc("GET /v1/sessions/{id}/transcript", s.handleTranscript)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /auth/exchange", s.handleExchange)
	mux.Handle("/v1/", auth.HTTPAuthMiddleware(s.tokens)(api))
	return mux
}

// exchangeTokenTTL is the lifetime of JWTs minted from an API key.
const exchangeTokenTTL = time.Hour

// exchangeRequest is the JSON body for POST /auth/exchange.
type exchangeRequest struct {
	Principal string `json:"principal"`
	APIKey    string `json:"api_key"`
}

// handleExchange trades a long-lived API key for a short-lived JWT.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		writeError(w, http.StatusNotFound, "key exchange disabled")
		return
	}

	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Principal == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "principal and api_key required")
		return
	}

	if err := s.apiKeys.Verify(req.Principal, req.APIKey); err != nil {
		s.logger.Warn("api key verification failed", "principal", req.Principal)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Generate(req.Principal, exchangeTokenTTL)
	if err != nil {
		s.logger.Error("failed to generate token", "principal", req.Principal, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(exchangeTokenTTL.Seconds()),
	})
}

// handleHealth reports liveness plus the active workflow count, the cheapest
// way to spot leaked tokens from the outside.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_workflows": s.registry.ActiveCount(),
		"active_sessions":  s.hub.Count(),
	})
}

// signalCompletion signals the workflow's token and reports whether the
// workflow completed cleanly. An OwnershipError here means some layer below
// the transport signalled a token it did not create, which is a bug.
func (s *Server) signalCompletion(sessionID string, token completion.Token) bool {
	err := s.registry.SignalCompletion(token)
	if err == nil {
		return true
	}

	var ownErr *completion.OwnershipError
	if errors.As(err, &ownErr) {
		s.logger.Error("completion ownership violation",
			"session_id", sessionID,
			"token", token,
			"already_completed", ownErr.AlreadyCompleted)
	} else {
		s.logger.Error("failed to signal completion",
			"session_id", sessionID,
			"token", token,
			"error", err)
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
