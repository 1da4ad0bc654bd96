// ABOUTME: Provider interfaces and streaming event types for chat and speech
// ABOUTME: Leaf streams carry the workflow's completion token, query-only

package provider

import (
	"context"

	"github.com/2389/stream-gateway/internal/completion"
)

// CompletionChecker is the read-only view of the completion registry handed
// to leaf streams so they can short-circuit work for workflows that already
// ended. Leaf operations never signal completion.
type CompletionChecker interface {
	IsCompleted(completion.Token) bool
}

// Event kinds emitted by a chat stream
const (
	EventText     = "text"      // Incremental text delta
	EventToolCall = "tool_call" // Model requests a tool invocation
	EventDone     = "done"      // Stream finished normally
	EventError    = "error"     // Stream failed
)

// Event is one element of a chat stream.
type Event struct {
	Kind     string
	Text     string
	ToolCall *ToolCall
	Err      error
}

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// Message roles
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string
	Content string

	// ToolName and ToolID are set for RoleTool messages carrying a tool result.
	ToolName string
	ToolID   string
}

// ChatRequest carries the conversation for one model call.
type ChatRequest struct {
	Messages []Message
}

// Chat streams model output for a conversation. The returned channel is
// closed after the terminal EventDone or EventError. Implementations respect
// ctx cancellation and stop early when the workflow's token is completed.
type Chat interface {
	Stream(ctx context.Context, token completion.Token, req ChatRequest) (<-chan Event, error)
}

// Chunk is one piece of synthesized audio.
type Chunk struct {
	Audio    []byte
	MIMEType string
}

// Speech synthesizes audio for text. The returned channel is closed when
// synthesis finishes or fails; failures are logged by the caller, not
// surfaced as events, since audio is best-effort.
type Speech interface {
	Synthesize(ctx context.Context, token completion.Token, text string) (<-chan Chunk, error)
}
