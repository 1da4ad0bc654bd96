// ABOUTME: Gemini-backed Chat and Speech providers using the genai SDK
// ABOUTME: Streams text deltas and tool calls, synthesizes speech audio

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/2389/stream-gateway/internal/completion"
)

// eventBufferSize is the channel buffer for provider event streams.
const eventBufferSize = 16

// ToolDecl declares a tool the model may call.
type ToolDecl struct {
	Name        string
	Description string
}

// GeminiChat implements Chat against the Gemini API.
type GeminiChat struct {
	client  *genai.Client
	model   string
	tools   []ToolDecl
	checker CompletionChecker
	logger  *slog.Logger
}

// NewGeminiChat creates a chat provider for the given model.
func NewGeminiChat(ctx context.Context, apiKey, model string, tools []ToolDecl, checker CompletionChecker, logger *slog.Logger) (*GeminiChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiChat{
		client:  client,
		model:   model,
		tools:   tools,
		checker: checker,
		logger:  logger.With("component", "gemini"),
	}, nil
}

// Stream starts a streamed generation and converts SDK chunks to Events.
// The conversation is replayed as genai contents; tool results become
// function responses.
func (g *GeminiChat) Stream(ctx context.Context, token completion.Token, req ChatRequest) (<-chan Event, error) {
	contents, err := buildContents(req.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if len(g.tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(g.tools))
		for i, t := range g.tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	ch := make(chan Event, eventBufferSize)

	go func() {
		defer close(ch)

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			// A finished workflow means nobody is reading anymore
			if g.checker != nil && g.checker.IsCompleted(token) {
				g.logger.Debug("workflow completed, abandoning chat stream", "token", token)
				return
			}

			if err != nil {
				sendEvent(ctx, ch, Event{Kind: EventError, Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				if part.FunctionCall != nil {
					argsJSON, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						sendEvent(ctx, ch, Event{Kind: EventError, Err: fmt.Errorf("encoding tool args: %w", err)})
						return
					}
					call := &ToolCall{
						ID:       uuid.New().String(),
						Name:     part.FunctionCall.Name,
						ArgsJSON: string(argsJSON),
					}
					if !sendEvent(ctx, ch, Event{Kind: EventToolCall, ToolCall: call}) {
						return
					}
					continue
				}
				if part.Text != "" {
					if !sendEvent(ctx, ch, Event{Kind: EventText, Text: part.Text}) {
						return
					}
				}
			}
		}

		sendEvent(ctx, ch, Event{Kind: EventDone})
	}()

	return ch, nil
}

// buildContents converts conversation messages to genai contents.
func buildContents(messages []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleModel:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, map[string]any{
				"result": msg.Content,
			})
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{part},
			})
		default:
			return nil, fmt.Errorf("unknown message role %q", msg.Role)
		}
	}
	return contents, nil
}

// sendEvent delivers an event unless ctx is cancelled first.
func sendEvent(ctx context.Context, ch chan<- Event, evt Event) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// GeminiSpeech implements Speech using Gemini TTS models.
type GeminiSpeech struct {
	client  *genai.Client
	model   string
	voice   string
	checker CompletionChecker
	logger  *slog.Logger
}

// NewGeminiSpeech creates a speech provider. The client is shared with the
// chat provider when both are Gemini-backed.
func NewGeminiSpeech(client *genai.Client, model, voice string, checker CompletionChecker, logger *slog.Logger) *GeminiSpeech {
	if model == "" {
		model = "gemini-2.5-flash-preview-tts"
	}
	if voice == "" {
		voice = "Kore"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiSpeech{
		client:  client,
		model:   model,
		voice:   voice,
		checker: checker,
		logger:  logger.With("component", "gemini-tts"),
	}
}

// Client exposes the underlying genai client for sharing with GeminiSpeech.
func (g *GeminiChat) Client() *genai.Client {
	return g.client
}

// Synthesize requests audio for the text and streams the resulting chunks.
func (g *GeminiSpeech) Synthesize(ctx context.Context, token completion.Token, text string) (<-chan Chunk, error) {
	if g.checker != nil && g.checker.IsCompleted(token) {
		// Workflow already ended; do not spend a TTS call on it
		ch := make(chan Chunk)
		close(ch)
		return ch, nil
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	ch := make(chan Chunk, eventBufferSize)

	go func() {
		defer close(ch)

		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			g.logger.Warn("speech synthesis failed", "error", err)
			return
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			select {
			case ch <- Chunk{Audio: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
