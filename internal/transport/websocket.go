// ABOUTME: WebSocket transport for interactive streaming sessions
// ABOUTME: One connection is one workflow: token minted on upgrade, signalled on close

package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/stream-gateway/internal/auth"
	"github.com/2389/stream-gateway/internal/store"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the connection.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth happens in middleware; cross-origin browser clients are expected
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamRequest is an inbound client frame on the websocket.
type streamRequest struct {
	Prompt string `json:"prompt"`
}

// handleStream upgrades to a websocket and runs workflows for the
// connection. The handler mints the connection's completion token, threads
// it through the session, and signals it exactly once from the deferred
// cleanup, no matter how the connection ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.New().String()
	token := s.registry.Create()

	if err := s.store.CreateSession(r.Context(), &store.Session{
		ID:        sessionID,
		Principal: authCtx.PrincipalID,
		Model:     s.model,
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Error("failed to persist session", "session_id", sessionID, "error", err)
		// The token was minted but no workflow ran; still signal it so it
		// doesn't leak as active forever
		s.signalCompletion(sessionID, token)
		conn.Close()
		return
	}

	sess := s.hub.Create(sessionID, authCtx.PrincipalID, token)

	logger := s.logger.With("session_id", sessionID, "principal", authCtx.PrincipalID)
	logger.Info("stream session opened")

	defer func() {
		completed := s.signalCompletion(sessionID, token)
		if err := s.store.EndSession(context.Background(), sessionID, time.Now(), completed); err != nil {
			logger.Warn("failed to record session end", "error", err)
		}
		s.hub.Remove(sessionID)
		conn.Close()
		logger.Info("stream session closed", "completed", completed)
	}()

	// Writer pump: forward session events to the socket until the session
	// channel closes
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()

		for {
			select {
			case evt, ok := <-sess.Events():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(evt); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}

			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Reader loop: each inbound prompt runs one dispatch through the
	// session's workflow. The session context outlives r.Context() for
	// keepalive-less clients, so dispatch under the session context.
	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if req.Prompt == "" {
			continue
		}

		if err := s.dispatcher.Run(sess.Context(), sess, req.Prompt); err != nil {
			// The dispatcher already emitted the error event; only a dead
			// session ends the connection
			if sess.IsClosed() {
				break
			}
		}
	}

	sess.Close()
	<-writerDone
}
