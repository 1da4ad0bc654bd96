// ABOUTME: Deterministic scripted providers for tests and offline mode
// ABOUTME: Streams canned events without any network or API keys

package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/2389/stream-gateway/internal/completion"
)

// ScriptChat implements Chat with canned event streams. Each call to Stream
// consumes the next script; once scripts run out, the provider echoes the
// last user message word by word. Used for tests and --offline serve mode.
type ScriptChat struct {
	mu      sync.Mutex
	scripts [][]Event
	checker CompletionChecker
}

// NewScriptChat creates a scripted chat provider. Scripts are consumed in
// order, one per Stream call.
func NewScriptChat(checker CompletionChecker, scripts ...[]Event) *ScriptChat {
	return &ScriptChat{scripts: scripts, checker: checker}
}

// Stream replays the next script, or echoes the prompt when none remain.
// A terminal EventDone is appended if the script lacks one.
func (s *ScriptChat) Stream(ctx context.Context, token completion.Token, req ChatRequest) (<-chan Event, error) {
	s.mu.Lock()
	var script []Event
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	} else {
		script = echoScript(req)
	}
	s.mu.Unlock()

	if len(script) == 0 || script[len(script)-1].Kind != EventDone && script[len(script)-1].Kind != EventError {
		script = append(script, Event{Kind: EventDone})
	}

	ch := make(chan Event, eventBufferSize)

	go func() {
		defer close(ch)
		for _, evt := range script {
			if s.checker != nil && s.checker.IsCompleted(token) {
				return
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// echoScript builds a word-by-word echo of the last user message.
func echoScript(req ChatRequest) []Event {
	var prompt string
	for _, msg := range req.Messages {
		if msg.Role == RoleUser {
			prompt = msg.Content
		}
	}

	var events []Event
	for _, word := range strings.Fields(prompt) {
		events = append(events, Event{Kind: EventText, Text: word + " "})
	}
	return events
}

// ScriptSpeech implements Speech with synthetic audio chunks derived from
// the text length. Chunks carry a PCM MIME type so transports treat them
// like real audio.
type ScriptSpeech struct {
	checker CompletionChecker
}

// NewScriptSpeech creates a scripted speech provider.
func NewScriptSpeech(checker CompletionChecker) *ScriptSpeech {
	return &ScriptSpeech{checker: checker}
}

// chunkSize is the synthetic audio bytes emitted per chunk.
const chunkSize = 256

// Synthesize emits one synthetic chunk per 32 characters of input.
func (s *ScriptSpeech) Synthesize(ctx context.Context, token completion.Token, text string) (<-chan Chunk, error) {
	ch := make(chan Chunk, eventBufferSize)

	go func() {
		defer close(ch)

		chunks := len(text)/32 + 1
		for i := 0; i < chunks; i++ {
			if s.checker != nil && s.checker.IsCompleted(token) {
				return
			}
			select {
			case ch <- Chunk{Audio: make([]byte, chunkSize), MIMEType: "audio/pcm"}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
