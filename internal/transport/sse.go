// ABOUTME: SSE transport pair: POST send starts a workflow, GET stream watches
// ABOUTME: Each send is one workflow; its goroutine owns and signals the token

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/stream-gateway/internal/auth"
	"github.com/2389/stream-gateway/internal/store"
)

// sendRequest is the JSON body for POST /v1/sessions/{id}/send.
type sendRequest struct {
	Prompt string `json:"prompt"`
}

// handleSend starts one workflow for the named session and returns
// immediately; events stream out via the companion SSE endpoint. The
// spawned goroutine created the workflow's token, so its cleanup signals
// completion, success or not.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	authCtx := auth.MustFromContext(r.Context())

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}

	err := s.store.CreateSession(r.Context(), &store.Session{
		ID:        sessionID,
		Principal: authCtx.PrincipalID,
		Model:     s.model,
		CreatedAt: time.Now(),
	})
	switch {
	case err == nil:
		// New session
	case errors.Is(err, store.ErrDuplicateSession):
		// Follow-up send to an existing session; verify ownership
		existing, getErr := s.store.GetSession(r.Context(), sessionID)
		if getErr != nil {
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if existing.Principal != authCtx.PrincipalID {
			writeError(w, http.StatusForbidden, "session belongs to another principal")
			return
		}
	default:
		s.logger.Error("failed to persist session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	// One workflow at a time per session. The hub reservation is atomic, so
	// concurrent sends to the same session leave exactly one winner.
	token := s.registry.Create()
	sess, ok := s.hub.CreateIfAbsent(sessionID, authCtx.PrincipalID, token)
	if !ok {
		s.signalCompletion(sessionID, token)
		writeError(w, http.StatusConflict, "workflow already in progress")
		return
	}

	logger := s.logger.With("session_id", sessionID, "principal", authCtx.PrincipalID)

	// Run under a background context: r.Context() dies when this handler
	// returns, but the workflow outlives the request
	go func() {
		defer func() {
			s.signalCompletion(sessionID, token)
			s.hub.Remove(sessionID)
		}()

		// Nothing consumes the session channel in SSE mode; watchers follow
		// the transcript broadcaster instead. Drain it so the dispatcher
		// never stalls on a full buffer.
		go func() {
			for range sess.Events() {
			}
		}()

		if err := s.dispatcher.Run(context.Background(), sess, req.Prompt); err != nil {
			logger.Warn("workflow failed", "error", err)
		}
		sess.Close()
	}()

	logger.Debug("workflow dispatched")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"session_id": sessionID,
	})
}

// handleSSE streams a session's transcript events as server-sent events.
// Watchers attach via the broadcaster and see everything published from the
// moment they connect.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	record, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if record.Principal != auth.MustFromContext(r.Context()).PrincipalID {
		writeError(w, http.StatusForbidden, "session belongs to another principal")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, watchID := s.broadcaster.Watch(r.Context(), sessionID)
	s.logger.Debug("sse watcher attached", "session_id", sessionID, "watch_id", watchID)

	fmt.Fprintf(w, "event: connected\ndata: {\"session_id\": %q}\n\n", sessionID)
	flusher.Flush()

	// Heartbeat comments keep intermediaries from reaping idle connections
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case evt, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to marshal transcript event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}
