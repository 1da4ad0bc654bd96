// ABOUTME: Built-in tools available to every workflow: time, echo, recall.
// ABOUTME: Recall reads prior transcript events from the store.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/stream-gateway/internal/completion"
	"github.com/2389/stream-gateway/internal/store"
)

// RegisterBuiltins adds the default tools to the registry.
func RegisterBuiltins(r *Registry, s store.Store) error {
	b := &builtinHandlers{store: s}

	builtins := []*Tool{
		{
			Name:        "time.now",
			Description: "Get the current time in RFC3339 format",
			Handler:     b.TimeNow,
		},
		{
			Name:        "text.echo",
			Description: "Echo the given text back, optionally uppercased",
			Handler:     b.TextEcho,
		},
		{
			Name:        "session.recall",
			Description: "Recall recent transcript events from a past session",
			Handler:     b.SessionRecall,
		},
	}

	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

type builtinHandlers struct {
	store store.Store
}

// TimeNow returns the current UTC time.
func (b *builtinHandlers) TimeNow(ctx context.Context, token completion.Token, argsJSON string) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// TextEcho echoes back the provided text.
func (b *builtinHandlers) TextEcho(ctx context.Context, token completion.Token, argsJSON string) (string, error) {
	var args struct {
		Text      string `json:"text"`
		Uppercase bool   `json:"uppercase"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("parsing echo args: %w", err)
	}

	if args.Uppercase {
		return strings.ToUpper(args.Text), nil
	}
	return args.Text, nil
}

// SessionRecall returns a plain-text rendering of a past session's transcript.
func (b *builtinHandlers) SessionRecall(ctx context.Context, token completion.Token, argsJSON string) (string, error) {
	var args struct {
		SessionID string `json:"session_id"`
		Limit     int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("parsing recall args: %w", err)
	}
	if args.SessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	if args.Limit <= 0 {
		args.Limit = 50
	}

	events, err := b.store.ListEvents(ctx, args.SessionID, args.Limit)
	if err != nil {
		return "", fmt.Errorf("listing events: %w", err)
	}

	var sb strings.Builder
	for _, evt := range events {
		switch evt.Type {
		case store.EventTypeUser:
			fmt.Fprintf(&sb, "user: %s\n", evt.Content)
		case store.EventTypeText:
			fmt.Fprintf(&sb, "assistant: %s\n", evt.Content)
		case store.EventTypeToolUse:
			fmt.Fprintf(&sb, "tool %s called\n", evt.ToolName)
		case store.EventTypeToolResult:
			fmt.Fprintf(&sb, "tool result: %s\n", evt.Content)
		}
	}
	if sb.Len() == 0 {
		return "no transcript found", nil
	}
	return sb.String(), nil
}
