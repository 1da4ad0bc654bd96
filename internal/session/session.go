// ABOUTME: Stream session state bridging the workflow dispatcher and transports
// ABOUTME: Carries the ordered event channel and the workflow's completion token

package session

import (
	"context"
	"sync"
	"time"

	"github.com/2389/stream-gateway/internal/completion"
)

// eventBufferSize is the channel buffer for each session's event stream.
const eventBufferSize = 64

// Event is one element of a session's output stream, serialized as-is to
// transport clients.
type Event struct {
	Type      string    `json:"type"` // "user", "text", "tool_use", "tool_result", "audio", "done", "error"
	Seq       int64     `json:"seq"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolID    string    `json:"tool_id,omitempty"`
	Audio     []byte    `json:"audio,omitempty"`
	MIMEType  string    `json:"mime_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents one active streaming interaction. It owns the buffered
// event channel between the workflow dispatcher (producer) and the transport
// handler (consumer), and carries the workflow's completion token so the
// transport can signal completion from its cleanup path.
type Session struct {
	mu        sync.RWMutex
	id        string
	principal string
	token     completion.Token
	events    chan *Event
	closed    bool
	cancel    context.CancelFunc
	ctx       context.Context
	createdAt time.Time
	lastUsed  time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Principal returns the authenticated principal that opened the session.
func (s *Session) Principal() string { return s.principal }

// Token returns the workflow's completion token. Only the transport handler
// that created the session may signal completion with it.
func (s *Session) Token() completion.Token { return s.token }

// Events returns the receive side of the session's event channel. The
// channel is closed when the session closes.
func (s *Session) Events() <-chan *Event { return s.events }

// Context returns the session-scoped context, cancelled on close.
func (s *Session) Context() context.Context { return s.ctx }

// Send safely sends an event to the session channel.
// Returns false if the session is closed or the channel is full.
func (s *Session) Send(evt *Event) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	// Hold the read lock while sending to prevent close during send
	select {
	case s.events <- evt:
		s.mu.RUnlock()
		return true
	default:
		// Channel full
		s.mu.RUnlock()
		return false
	}
}

// sendRetryInterval paces SendWithTimeout retries while the channel is full.
const sendRetryInterval = 5 * time.Millisecond

// SendWithTimeout sends an event, waiting as long as ctx allows for buffer
// space when the channel is full. A blocking channel send would have to hold
// the session lock against Close, so a full channel is polled instead.
// Returns false once ctx expires or the session closes.
func (s *Session) SendWithTimeout(ctx context.Context, evt *Event) bool {
	retry := time.NewTicker(sendRetryInterval)
	defer retry.Stop()

	for {
		if s.Send(evt) {
			return true
		}
		if s.IsClosed() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.ctx.Done():
			return false
		case <-retry.C:
		}
	}
}

// Close safely closes the session. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.events)
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// touch updates the last-used timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// idle returns how long the session has been unused.
func (s *Session) idle(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastUsed)
}
