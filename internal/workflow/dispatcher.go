// ABOUTME: Workflow dispatcher driving the chat → tools → speech pipeline
// ABOUTME: Threads the completion token through every layer; never signals it

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/stream-gateway/internal/provider"
	"github.com/2389/stream-gateway/internal/session"
	"github.com/2389/stream-gateway/internal/store"
	"github.com/2389/stream-gateway/internal/tools"
	"github.com/2389/stream-gateway/internal/transcript"
)

// maxToolRounds bounds how many times a single workflow may loop through
// tool execution before the reply is forced to finish.
const maxToolRounds = 4

// Dispatcher runs one streaming workflow per session: it drives the chat
// stream, executes tool-call sub-workflows, optionally synthesizes speech,
// and emits ordered events into the session channel.
//
// The dispatcher is an intermediate layer in the completion-ownership chain:
// it receives the session's token, forwards it to providers and tools, and
// never signals completion. That right stays with the transport handler
// that created the session.
type Dispatcher struct {
	chat        provider.Chat
	speech      provider.Speech // nil disables speech synthesis
	runner      *tools.Runner
	store       store.Store
	broadcaster *transcript.Broadcaster
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher. speech may be nil; pass nil logger for
// default.
func NewDispatcher(chat provider.Chat, speech provider.Speech, runner *tools.Runner, s store.Store, broadcaster *transcript.Broadcaster, sendTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		chat:        chat,
		speech:      speech,
		runner:      runner,
		store:       s,
		broadcaster: broadcaster,
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "dispatcher"),
	}
}

// emitter assigns sequence numbers and fans each event out to the session
// channel, the store, and the transcript broadcaster.
type emitter struct {
	d    *Dispatcher
	sess *session.Session
	seq  int64
}

// emit delivers one event. Persistence and broadcast failures are logged,
// not fatal: the live stream to the client takes priority over the audit
// trail.
func (e *emitter) emit(ctx context.Context, evt *session.Event) {
	e.seq++
	evt.Seq = e.seq
	evt.Timestamp = time.Now()

	sendCtx, cancel := context.WithTimeout(ctx, e.d.sendTimeout)
	sent := e.sess.SendWithTimeout(sendCtx, evt)
	cancel()
	if !sent {
		e.d.logger.Warn("dropped session event",
			"session_id", e.sess.ID(),
			"type", evt.Type,
			"seq", evt.Seq)
	}

	record := &store.TranscriptEvent{
		ID:        uuid.New().String(),
		SessionID: e.sess.ID(),
		Seq:       evt.Seq,
		Type:      evt.Type,
		Content:   evt.Content,
		ToolName:  evt.ToolName,
		ToolID:    evt.ToolID,
		CreatedAt: evt.Timestamp,
	}
	if evt.Type == store.EventTypeAudio {
		// Audio bytes stay out of the transcript; record the chunk size
		record.Content = fmt.Sprintf("%d bytes", len(evt.Audio))
	}
	if err := e.d.store.SaveEvent(ctx, record); err != nil {
		e.d.logger.Warn("failed to persist transcript event",
			"session_id", e.sess.ID(),
			"seq", evt.Seq,
			"error", err)
	}
	e.d.broadcaster.Publish(e.sess.ID(), record)
}

// Run executes the workflow for one prompt. It returns once the terminal
// done or error event has been emitted into the session channel. The caller
// (transport) signals completion on the session's token after it has
// forwarded all events to the wire.
func (d *Dispatcher) Run(ctx context.Context, sess *session.Session, prompt string) error {
	em := &emitter{d: d, sess: sess}

	// Sessions can host multiple workflows over time (one per send); resume
	// the sequence after any prior events so (session_id, seq) stays unique
	if prior, err := d.store.ListEvents(ctx, sess.ID(), 0); err == nil && len(prior) > 0 {
		em.seq = prior[len(prior)-1].Seq
	}

	em.emit(ctx, &session.Event{Type: store.EventTypeUser, Content: prompt})

	messages := []provider.Message{{Role: provider.RoleUser, Content: prompt}}

	var reply string
	for round := 0; ; round++ {
		text, calls, err := d.streamOnce(ctx, sess, em, messages)
		if err != nil {
			em.emit(ctx, &session.Event{Type: store.EventTypeError, Content: err.Error()})
			return err
		}
		reply += text

		if len(calls) == 0 {
			break
		}
		if round >= maxToolRounds {
			d.logger.Warn("tool round limit reached, forcing reply",
				"session_id", sess.ID())
			break
		}

		if text != "" {
			messages = append(messages, provider.Message{Role: provider.RoleModel, Content: text})
		}

		results, err := d.runTools(ctx, sess, em, calls)
		if err != nil {
			em.emit(ctx, &session.Event{Type: store.EventTypeError, Content: err.Error()})
			return err
		}
		messages = append(messages, results...)
	}

	if d.speech != nil && reply != "" {
		if err := d.speakReply(ctx, sess, em, reply); err != nil {
			// Audio is best-effort; the text already reached the client
			d.logger.Warn("speech synthesis failed",
				"session_id", sess.ID(),
				"error", err)
		}
	}

	em.emit(ctx, &session.Event{Type: store.EventTypeDone})
	return nil
}

// streamOnce consumes one provider stream, emitting text deltas and
// collecting tool calls. Returns the accumulated text and any tool calls.
func (d *Dispatcher) streamOnce(ctx context.Context, sess *session.Session, em *emitter, messages []provider.Message) (string, []*provider.ToolCall, error) {
	ch, err := d.chat.Stream(ctx, sess.Token(), provider.ChatRequest{Messages: messages})
	if err != nil {
		return "", nil, fmt.Errorf("starting chat stream: %w", err)
	}

	var text string
	var calls []*provider.ToolCall

	for {
		select {
		case <-ctx.Done():
			// Drain remaining events to unblock the provider
			go drainEvents(ch)
			return "", nil, ctx.Err()

		case <-sess.Context().Done():
			go drainEvents(ch)
			return "", nil, fmt.Errorf("session closed")

		case evt, ok := <-ch:
			if !ok {
				// Provider closed without a terminal event
				return text, calls, nil
			}

			switch evt.Kind {
			case provider.EventText:
				text += evt.Text
				em.emit(ctx, &session.Event{Type: store.EventTypeText, Content: evt.Text})

			case provider.EventToolCall:
				calls = append(calls, evt.ToolCall)

			case provider.EventDone:
				return text, calls, nil

			case provider.EventError:
				return "", nil, evt.Err
			}
		}
	}
}

// runTools executes the round's tool calls concurrently and returns their
// results as tool messages in call order. The completion token is forwarded
// to every tool sub-workflow.
func (d *Dispatcher) runTools(ctx context.Context, sess *session.Session, em *emitter, calls []*provider.ToolCall) ([]provider.Message, error) {
	for _, call := range calls {
		em.emit(ctx, &session.Event{
			Type:     store.EventTypeToolUse,
			Content:  call.ArgsJSON,
			ToolName: call.Name,
			ToolID:   call.ID,
		})
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			result, err := d.runner.Run(gctx, sess.Token(), call.Name, call.ArgsJSON)
			if err != nil {
				return fmt.Errorf("running tool %s: %w", call.Name, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]provider.Message, len(calls))
	for i, call := range calls {
		em.emit(ctx, &session.Event{
			Type:     store.EventTypeToolResult,
			Content:  results[i],
			ToolName: call.Name,
			ToolID:   call.ID,
		})
		messages[i] = provider.Message{
			Role:     provider.RoleTool,
			Content:  results[i],
			ToolName: call.Name,
			ToolID:   call.ID,
		}
	}
	return messages, nil
}

// speakReply streams synthesized audio chunks for the final reply text.
func (d *Dispatcher) speakReply(ctx context.Context, sess *session.Session, em *emitter, reply string) error {
	ch, err := d.speech.Synthesize(ctx, sess.Token(), reply)
	if err != nil {
		return err
	}

	for chunk := range ch {
		em.emit(ctx, &session.Event{
			Type:     store.EventTypeAudio,
			Audio:    chunk.Audio,
			MIMEType: chunk.MIMEType,
		})
	}
	return nil
}

// drainEvents consumes all remaining events from a provider channel
func drainEvents(ch <-chan provider.Event) {
	for range ch {
	}
}
