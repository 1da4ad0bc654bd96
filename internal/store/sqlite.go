// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/transcript persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: concurrent writers serialize here instead of hitting
	// SQLITE_BUSY, and an in-memory database stays a single database.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			principal  TEXT NOT NULL,
			model      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			ended_at   TEXT,
			completed  INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_principal
			ON sessions(principal);

		CREATE INDEX IF NOT EXISTS idx_sessions_created
			ON sessions(created_at);

		CREATE TABLE IF NOT EXISTS transcript_events (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			tool_name  TEXT,
			tool_id    TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_seq
			ON transcript_events(session_id, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
// Returns ErrDuplicateSession if a session with the same ID already exists.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, principal, model, created_at, ended_at, completed)
		VALUES (?, ?, ?, ?, NULL, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Principal,
		session.Model,
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "principal", session.Principal)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, principal, model, created_at, ended_at, completed
		FROM sessions
		WHERE id = ?
	`

	var session Session
	var createdAtStr string
	var endedAtStr *string
	var completed int

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Principal,
		&session.Model,
		&createdAtStr,
		&endedAtStr,
		&completed,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if endedAtStr != nil {
		endedAt, err := time.Parse(time.RFC3339, *endedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		session.EndedAt = &endedAt
	}
	session.Completed = completed != 0

	return &session, nil
}

// EndSession records the end of a session and whether its workflow completed
// cleanly. Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) EndSession(ctx context.Context, id string, endedAt time.Time, completed bool) error {
	query := `
		UPDATE sessions
		SET ended_at = ?, completed = ?
		WHERE id = ?
	`

	completedInt := 0
	if completed {
		completedInt = 1
	}

	result, err := s.db.ExecContext(ctx, query,
		endedAt.UTC().Format(time.RFC3339),
		completedInt,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("ended session", "id", id, "completed", completed)
	return nil
}

// ListSessions returns the most recent sessions, newest first.
// If limit is 0 or negative, all sessions are returned.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	query := `
		SELECT id, principal, model, created_at, ended_at, completed
		FROM sessions
		ORDER BY created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAtStr string
		var endedAtStr *string
		var completed int

		if err := rows.Scan(&session.ID, &session.Principal, &session.Model, &createdAtStr, &endedAtStr, &completed); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing session created_at: %w", err)
		}
		if endedAtStr != nil {
			endedAt, err := time.Parse(time.RFC3339, *endedAtStr)
			if err != nil {
				return nil, fmt.Errorf("parsing session ended_at: %w", err)
			}
			session.EndedAt = &endedAt
		}
		session.Completed = completed != 0

		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// SaveEvent inserts a transcript event row.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *TranscriptEvent) error {
	query := `
		INSERT INTO transcript_events (id, session_id, seq, type, content, tool_name, tool_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.SessionID,
		event.Seq,
		event.Type,
		event.Content,
		nullString(event.ToolName),
		nullString(event.ToolID),
		event.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transcript event: %w", err)
	}

	s.logger.Debug("saved transcript event", "id", event.ID, "session_id", event.SessionID, "type", event.Type)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListEvents retrieves transcript events for a session in sequence order.
// If limit is 0 or negative, all events are returned.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]*TranscriptEvent, error) {
	query := `
		SELECT id, session_id, seq, type, content, tool_name, tool_id, created_at
		FROM transcript_events
		WHERE session_id = ?
		ORDER BY seq ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transcript events: %w", err)
	}
	defer rows.Close()

	var events []*TranscriptEvent
	for rows.Next() {
		var event TranscriptEvent
		var createdAtStr string
		var toolName, toolID *string

		if err := rows.Scan(&event.ID, &event.SessionID, &event.Seq, &event.Type, &event.Content, &toolName, &toolID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}

		// Handle nullable fields
		if toolName != nil {
			event.ToolName = *toolName
		}
		if toolID != nil {
			event.ToolID = *toolID
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}
