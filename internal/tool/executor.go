package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Morlock52/psscript-sub005/internal/schema"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Executor runs registered tools with schema validation and a per-tool
// deadline. Validation failures are returned synchronously and never
// dispatched; execution failures and timeouts come back as typed errors so
// the orchestrator can fold them into the transcript without aborting the
// stage.
type Executor struct {
	registry  *Registry
	validator schema.Validator
	logger    *slog.Logger
	timeout   time.Duration
}

// ExecutorOption is a functional option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-tool execution deadline. Default: 30s.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger for executor operations.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger.With("component", "tool_executor")
		}
	}
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		validator: schema.NewValidator(),
		logger:    slog.Default().With("component", "tool_executor"),
		timeout:   30 * time.Second,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs the named tool against the script content. Arguments are
// validated against the tool's input schema before dispatch.
func (e *Executor) Execute(ctx context.Context, name, scriptContent string, args map[string]any) (map[string]any, error) {
	t, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	if validationErrs := e.validator.Validate(t.InputSchema(), args); len(validationErrs) > 0 {
		msgs := make([]string, len(validationErrs))
		for i, ve := range validationErrs {
			msgs[i] = ve.Error()
		}
		return nil, types.NewError(types.TOOL_INVALID_INPUT,
			fmt.Sprintf("tool %q arguments invalid: %s", name, strings.Join(msgs, "; ")))
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, execErr := t.Execute(execCtx, scriptContent, args)
	duration := time.Since(start)

	e.registry.record(name, execErr == nil, duration)

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("tool timed out", "tool", name, "timeout", e.timeout)
			return nil, types.NewError(types.TOOL_TIMEOUT,
				fmt.Sprintf("tool %q exceeded %s deadline", name, e.timeout))
		}

		e.logger.Warn("tool execution failed", "tool", name, "duration", duration, "error", execErr)
		return nil, types.WrapError(types.TOOL_EXECUTION_FAILED,
			fmt.Sprintf("tool %q execution failed", name), execErr)
	}

	e.logger.Debug("tool executed", "tool", name, "duration", duration)
	return result, nil
}

// Timeout returns the configured per-tool deadline.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}
