// ABOUTME: Read-only transcript endpoint rendering session history as HTML
// ABOUTME: Builds markdown from stored events and converts it with goldmark

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/stream-gateway/internal/auth"
	"github.com/2389/stream-gateway/internal/store"
)

// handleTranscript renders a session's stored transcript as an HTML page.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.Principal != auth.MustFromContext(r.Context()).PrincipalID {
		writeError(w, http.StatusForbidden, "session belongs to another principal")
		return
	}

	events, err := s.store.ListEvents(r.Context(), sessionID, 0)
	if err != nil {
		s.logger.Error("failed to load transcript", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	md := transcriptMarkdown(sess, events)

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		s.logger.Error("failed to render transcript", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(htmlBuf.Bytes())
}

// transcriptMarkdown builds a markdown document for a session's events.
// Consecutive text deltas are merged into one assistant block.
func transcriptMarkdown(sess *store.Session, events []*store.TranscriptEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "- Principal: %s\n", sess.Principal)
	fmt.Fprintf(&b, "- Started: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if sess.EndedAt != nil {
		fmt.Fprintf(&b, "- Ended: %s\n", sess.EndedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(&b, "- Completed: %t\n", sess.Completed)
	}
	b.WriteString("\n")

	var textRun strings.Builder
	flushText := func() {
		if textRun.Len() == 0 {
			return
		}
		fmt.Fprintf(&b, "**Assistant:**\n\n%s\n\n", textRun.String())
		textRun.Reset()
	}

	for _, evt := range events {
		if evt.Type != store.EventTypeText {
			flushText()
		}

		switch evt.Type {
		case store.EventTypeUser:
			fmt.Fprintf(&b, "**User:**\n\n%s\n\n", evt.Content)
		case store.EventTypeText:
			textRun.WriteString(evt.Content)
		case store.EventTypeToolUse:
			fmt.Fprintf(&b, "> Tool call `%s` (%s)\n\n", evt.ToolName, evt.ToolID)
		case store.EventTypeToolResult:
			fmt.Fprintf(&b, "> Tool result `%s`: %s\n\n", evt.ToolName, evt.Content)
		case store.EventTypeAudio:
			fmt.Fprintf(&b, "> Audio chunk (%s)\n\n", evt.Content)
		case store.EventTypeError:
			fmt.Fprintf(&b, "> **Error:** %s\n\n", evt.Content)
		}
	}
	flushText()

	return b.String()
}
