// ABOUTME: Store interface and data types for stream-gateway persistence
// ABOUTME: Defines Session, TranscriptEvent structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session that already exists
var ErrDuplicateSession = errors.New("session already exists")

// Session represents one end-to-end streaming interaction: a single client
// connection that runs one workflow from prompt to completion signal.
type Session struct {
	ID        string
	Principal string
	Model     string
	CreatedAt time.Time
	EndedAt   *time.Time

	// Completed records whether the workflow's completion token had been
	// signalled by the time the session ended. A session that ended without
	// a clean completion points at a broken token-propagation chain.
	Completed bool
}

// EventType constants for transcript event types
const (
	EventTypeUser       = "user"        // Inbound user prompt
	EventTypeText       = "text"        // Assistant text delta
	EventTypeToolUse    = "tool_use"    // Tool invocation
	EventTypeToolResult = "tool_result" // Tool result
	EventTypeAudio      = "audio"       // Synthesized speech chunk reference
	EventTypeDone       = "done"        // Workflow finished
	EventTypeError      = "error"       // Workflow error
)

// TranscriptEvent represents a single ordered event within a session for
// audit/history purposes. Seq is assigned by the workflow dispatcher and is
// strictly increasing within a session.
type TranscriptEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"` // For tool_use: name of the tool being called
	ToolID    string    `json:"tool_id,omitempty"`   // Links tool_use to its corresponding tool_result
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for session and transcript persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	EndSession(ctx context.Context, id string, endedAt time.Time, completed bool) error
	ListSessions(ctx context.Context, limit int) ([]*Session, error)

	// Transcript events
	SaveEvent(ctx context.Context, event *TranscriptEvent) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]*TranscriptEvent, error)

	// Close releases database resources
	Close() error
}
