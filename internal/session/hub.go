// ABOUTME: Hub of active stream sessions with periodic stale cleanup
// ABOUTME: Sessions are keyed by id and closed when idle past the threshold

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/stream-gateway/internal/completion"
)

// Hub manages active stream sessions.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	staleTimeout time.Duration
	cancel       context.CancelFunc
	logger       *slog.Logger
}

// NewHub creates a hub and starts its cleanup goroutine. Sessions idle
// longer than staleTimeout are closed and removed. Pass nil logger for
// default.
func NewHub(staleTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		sessions:     make(map[string]*Session),
		staleTimeout: staleTimeout,
		cancel:       cancel,
		logger:       logger.With("component", "session-hub"),
	}
	// Start cleanup goroutine
	go hub.cleanupLoop(ctx)
	return hub
}

// Create registers a new session for the principal, bound to the workflow's
// completion token. The returned session owns a fresh context cancelled on
// close. An existing session under the same id is replaced; callers whose
// ids are not unique must use CreateIfAbsent instead.
func (h *Hub) Create(id, principal string, token completion.Token) *Session {
	s := newSession(id, principal, token)

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	h.logger.Debug("session created", "id", id, "principal", principal)
	return s
}

// CreateIfAbsent atomically reserves the id and registers a new session, or
// reports false when a session with that id is already live. The check and
// the insert happen under one lock so concurrent callers cannot both win.
func (h *Hub) CreateIfAbsent(id, principal string, token completion.Token) (*Session, bool) {
	h.mu.Lock()
	if _, exists := h.sessions[id]; exists {
		h.mu.Unlock()
		return nil, false
	}
	s := newSession(id, principal, token)
	h.sessions[id] = s
	h.mu.Unlock()

	h.logger.Debug("session created", "id", id, "principal", principal)
	return s, true
}

func newSession(id, principal string, token completion.Token) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Session{
		id:        id,
		principal: principal,
		token:     token,
		events:    make(chan *Event, eventBufferSize),
		cancel:    cancel,
		ctx:       ctx,
		createdAt: now,
		lastUsed:  now,
	}
}

// Get returns an existing session if it exists, refreshing its last-used
// timestamp.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()

	if ok {
		s.touch()
	}
	return s, ok
}

// Remove removes and closes a session.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if ok {
		s.Close()
		h.logger.Debug("session removed", "id", id)
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// cleanupLoop periodically removes stale sessions
func (h *Hub) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupStaleSessions()
		}
	}
}

// cleanupStaleSessions removes sessions idle for more than the stale timeout
func (h *Hub) cleanupStaleSessions() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, s := range h.sessions {
		if s.idle(now) > h.staleTimeout {
			s.Close()
			delete(h.sessions, id)
			h.logger.Info("closed stale session", "id", id)
		}
	}
}

// Close closes all sessions and stops the cleanup goroutine.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.sessions {
		s.Close()
		delete(h.sessions, id)
	}
}
