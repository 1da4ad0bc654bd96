// ABOUTME: Tests for tool registry, built-ins, and the sub-workflow runner
// ABOUTME: Covers registration, collision, execution, and error conversion

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stream-gateway/internal/completion"
	"github.com/2389/stream-gateway/internal/store"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)

	tool := &Tool{
		Name:        "test.tool",
		Description: "a test tool",
		Handler: func(ctx context.Context, token completion.Token, argsJSON string) (string, error) {
			return "ok", nil
		},
	}
	require.NoError(t, r.Register(tool))

	got, err := r.Get("test.tool")
	require.NoError(t, err)
	assert.Equal(t, "test.tool", got.Name)
}

func TestRegistry_Collision(t *testing.T) {
	r := NewRegistry(nil)

	tool := &Tool{Name: "dup", Handler: func(context.Context, completion.Token, string) (string, error) { return "", nil }}
	require.NoError(t, r.Register(tool))

	err := r.Register(tool)
	assert.ErrorIs(t, err, ErrToolCollision)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(nil)

	for i := 0; i < 3; i++ {
		tool := &Tool{
			Name:    fmt.Sprintf("tool-%d", i),
			Handler: func(context.Context, completion.Token, string) (string, error) { return "", nil },
		}
		require.NoError(t, r.Register(tool))
	}

	assert.Len(t, r.List(), 3)
}

func newBuiltinRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := NewRegistry(nil)
	require.NoError(t, RegisterBuiltins(r, s))
	return r, s
}

func TestBuiltin_TimeNow(t *testing.T) {
	r, _ := newBuiltinRegistry(t)

	tool, err := r.Get("time.now")
	require.NoError(t, err)

	result, err := tool.Handler(context.Background(), completion.Token("t"), "{}")
	require.NoError(t, err)

	_, err = time.Parse(time.RFC3339, result)
	assert.NoError(t, err, "result should be RFC3339: %q", result)
}

func TestBuiltin_TextEcho(t *testing.T) {
	r, _ := newBuiltinRegistry(t)

	tool, err := r.Get("text.echo")
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]any{"text": "hello", "uppercase": true})
	result, err := tool.Handler(context.Background(), completion.Token("t"), string(args))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", result)
}

func TestBuiltin_SessionRecall(t *testing.T) {
	r, s := newBuiltinRegistry(t)

	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &store.Session{
		ID:        "past-session",
		Principal: "client-1",
		Model:     "gemini-2.0-flash",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveEvent(ctx, &store.TranscriptEvent{
		ID: "evt-1", SessionID: "past-session", Seq: 1,
		Type: store.EventTypeUser, Content: "what time is it",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveEvent(ctx, &store.TranscriptEvent{
		ID: "evt-2", SessionID: "past-session", Seq: 2,
		Type: store.EventTypeText, Content: "it is noon",
		CreatedAt: time.Now().UTC(),
	}))

	tool, err := r.Get("session.recall")
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]any{"session_id": "past-session"})
	result, err := tool.Handler(ctx, completion.Token("t"), string(args))
	require.NoError(t, err)

	assert.Contains(t, result, "user: what time is it")
	assert.Contains(t, result, "assistant: it is noon")
}

func TestBuiltin_SessionRecall_MissingSessionID(t *testing.T) {
	r, _ := newBuiltinRegistry(t)

	tool, err := r.Get("session.recall")
	require.NoError(t, err)

	_, err = tool.Handler(context.Background(), completion.Token("t"), "{}")
	assert.Error(t, err)
}

func TestRunner_Run(t *testing.T) {
	r := NewRegistry(nil)

	var gotToken completion.Token
	require.NoError(t, r.Register(&Tool{
		Name: "capture",
		Handler: func(ctx context.Context, token completion.Token, argsJSON string) (string, error) {
			gotToken = token
			return "captured", nil
		},
	}))

	runner := NewRunner(r, nil)

	registry := completion.NewRegistry(nil)
	token := registry.Create()

	result, err := runner.Run(context.Background(), token, "capture", "{}")
	require.NoError(t, err)
	assert.Equal(t, "captured", result)

	// The token is forwarded unchanged through the sub-workflow
	assert.Equal(t, token, gotToken)
	// And the sub-workflow never signalled completion
	assert.False(t, registry.IsCompleted(token))
}

func TestRunner_HandlerErrorBecomesResult(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&Tool{
		Name: "failing",
		Handler: func(context.Context, completion.Token, string) (string, error) {
			return "", errors.New("boom")
		},
	}))

	runner := NewRunner(r, nil)

	result, err := runner.Run(context.Background(), completion.Token("t"), "failing", "{}")
	require.NoError(t, err)
	assert.Contains(t, result, "boom")
}

func TestRunner_UnknownTool(t *testing.T) {
	runner := NewRunner(NewRegistry(nil), nil)

	_, err := runner.Run(context.Background(), completion.Token("t"), "missing", "{}")
	assert.ErrorIs(t, err, ErrToolNotFound)
}
