// ABOUTME: Tool execution as a sub-workflow within a streaming interaction.
// ABOUTME: Forwards the completion token unchanged; never signals completion.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/stream-gateway/internal/completion"
)

// defaultTimeout bounds a single tool execution.
const defaultTimeout = 30 * time.Second

// Runner executes tool calls requested by the model. It is an intermediate
// layer in the workflow call graph: it receives the workflow's token,
// forwards it to the handler, and is never entitled to signal completion.
type Runner struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner over the registry. Pass nil logger for default.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		timeout:  defaultTimeout,
		logger:   logger.With("component", "tool-runner"),
	}
}

// Run executes the named tool with the given JSON arguments. Handler errors
// are returned as a result string rather than an error so the model can see
// the failure and recover; only lookup failures are real errors.
func (r *Runner) Run(ctx context.Context, token completion.Token, name, argsJSON string) (string, error) {
	tool, err := r.registry.Get(name)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Handler(runCtx, token, argsJSON)
	if err != nil {
		r.logger.Warn("tool execution failed",
			"tool", name,
			"error", err,
			"duration", time.Since(start))
		return fmt.Sprintf("tool error: %v", err), nil
	}

	r.logger.Debug("tool executed",
		"tool", name,
		"duration", time.Since(start))
	return result, nil
}
