// ABOUTME: In-memory fan-out broadcaster for persisted transcript events
// ABOUTME: Lets watchers follow a session's transcript without polling

package transcript

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/stream-gateway/internal/store"
)

// watcherBufferSize is the channel buffer for each watcher.
const watcherBufferSize = 64

// Broadcaster provides in-memory pub/sub for persisted TranscriptEvents.
// Watchers register for a session id and receive events as they are
// persisted. This enables read-only observers (transcript followers,
// dashboards) without touching the session's own event channel.
type Broadcaster struct {
	mu       sync.RWMutex
	watchers map[string]map[string]chan *store.TranscriptEvent // sessionID -> watchID -> ch
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		watchers: make(map[string]map[string]chan *store.TranscriptEvent),
		logger:   logger.With("component", "transcript"),
	}
}

// Watch registers a watcher for events on the given session. Returns a
// channel that receives events and a watch ID for later unsubscription. The
// watch is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Watch(ctx context.Context, sessionID string) (<-chan *store.TranscriptEvent, string) {
	watchID := uuid.New().String()
	ch := make(chan *store.TranscriptEvent, watcherBufferSize)

	b.mu.Lock()
	if _, ok := b.watchers[sessionID]; !ok {
		b.watchers[sessionID] = make(map[string]chan *store.TranscriptEvent)
	}
	b.watchers[sessionID][watchID] = ch
	b.mu.Unlock()

	b.logger.Debug("watcher added",
		"session_id", sessionID,
		"watch_id", watchID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unwatch(sessionID, watchID)
	}()

	return ch, watchID
}

// Publish sends an event to all watchers of the given session.
// Non-blocking: events are dropped for watchers whose channels are full.
func (b *Broadcaster) Publish(sessionID string, event *store.TranscriptEvent) {
	b.mu.RLock()
	watchers, ok := b.watchers[sessionID]
	if !ok || len(watchers) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy watcher channels under read lock to avoid holding lock during sends
	targets := make([]chan *store.TranscriptEvent, 0, len(watchers))
	for _, ch := range watchers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			// Watcher channel full, drop event for this watcher
			b.logger.Debug("dropped event for slow watcher",
				"session_id", sessionID,
				"event_id", event.ID)
		}
	}
}

// Unwatch removes a watch and closes its channel.
func (b *Broadcaster) Unwatch(sessionID, watchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	watchers, ok := b.watchers[sessionID]
	if !ok {
		return
	}

	ch, exists := watchers[watchID]
	if !exists {
		return
	}

	delete(watchers, watchID)
	close(ch)

	// Clean up empty session entries
	if len(watchers) == 0 {
		delete(b.watchers, sessionID)
	}

	b.logger.Debug("watcher removed",
		"session_id", sessionID,
		"watch_id", watchID)
}

// Close shuts down the broadcaster and closes all watcher channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, watchers := range b.watchers {
		for watchID, ch := range watchers {
			close(ch)
			delete(watchers, watchID)
		}
		delete(b.watchers, sessionID)
	}

	b.logger.Debug("broadcaster closed")
}
