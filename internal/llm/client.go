package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Client is the orchestrator-facing model client. It wraps a Provider with
// bounded exponential-backoff retries and a global rate limiter protecting
// the provider from concurrent workflow overload.
type Client struct {
	provider Provider
	logger   *slog.Logger
	limiter  *rate.Limiter

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of retry attempts for transient
// provider errors. Default: 3.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the initial and maximum backoff delays.
// Default: 1s base, 10s cap.
func WithBackoff(base, max time.Duration) ClientOption {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithRateLimit caps outbound provider requests per second across all
// workflows. Zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// WithClientLogger sets the logger for client operations.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("component", "llm_client")
		}
	}
}

// NewClient creates a model client around the given provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:   provider,
		logger:     slog.Default().With("component", "llm_client"),
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   10 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.completeWithRetry(ctx, func() (*CompletionResponse, error) {
		return c.provider.Complete(ctx, req)
	})
}

// CompleteWithTools sends a completion request with tool definitions,
// retrying transient failures.
func (c *Client) CompleteWithTools(ctx context.Context, req CompletionRequest, tools []ToolDef) (*CompletionResponse, error) {
	return c.completeWithRetry(ctx, func() (*CompletionResponse, error) {
		return c.provider.CompleteWithTools(ctx, req, tools)
	})
}

// Health reports the underlying provider's health.
func (c *Client) Health(ctx context.Context) types.HealthStatus {
	return c.provider.Health(ctx)
}

func (c *Client) completeWithRetry(ctx context.Context, call func() (*CompletionResponse, error)) (*CompletionResponse, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, types.WrapError(types.WORKFLOW_CANCELLED, "model call cancelled", err)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, types.WrapError(types.WORKFLOW_CANCELLED, "model call cancelled while rate limited", err)
			}
		}

		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}

		if attempt == c.maxRetries {
			break
		}

		c.logger.Warn("model call failed, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, types.WrapError(types.WORKFLOW_CANCELLED, "model call cancelled during backoff", ctx.Err())
		}

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	return nil, types.WrapError(types.MODEL_RETRIES_EXHAUSTED,
		fmt.Sprintf("model call failed after %d attempts", c.maxRetries+1), lastErr)
}
