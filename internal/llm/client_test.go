package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morlock52/psscript-sub005/internal/config"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// flakyProvider fails a fixed number of calls before succeeding.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return &CompletionResponse{Content: "ok", FinishReason: FinishReasonStop}, nil
}

func (p *flakyProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, tools []ToolDef) (*CompletionResponse, error) {
	return p.Complete(ctx, req)
}

func (p *flakyProvider) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("flaky")
}

func newTestClient(p Provider, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithClientLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	}
	return NewClient(p, append(base, opts...)...)
}

func TestClientRetriesTransientErrors(t *testing.T) {
	p := &flakyProvider{failures: 2, err: types.NewRetryableError(types.MODEL_PROVIDER_ERROR, "overloaded")}
	c := newTestClient(p, WithMaxRetries(3))

	resp, err := c.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, p.calls)
}

func TestClientExhaustsRetries(t *testing.T) {
	cause := types.NewRetryableError(types.MODEL_PROVIDER_UNAVAILABLE, "down")
	p := &flakyProvider{failures: 100, err: cause}
	c := newTestClient(p, WithMaxRetries(2))

	_, err := c.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, types.MODEL_RETRIES_EXHAUSTED, types.CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, p.calls)
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	p := &flakyProvider{failures: 100, err: types.NewError(types.MODEL_RESPONSE_INVALID, "garbled")}
	c := newTestClient(p, WithMaxRetries(3))

	_, err := c.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, types.MODEL_RESPONSE_INVALID, types.CodeOf(err))
	assert.Equal(t, 1, p.calls)
}

func TestClientCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(&flakyProvider{})
	_, err := c.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, types.WORKFLOW_CANCELLED, types.CodeOf(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"retryable flag", types.NewRetryableError(types.MODEL_PROVIDER_ERROR, "x"), true},
		{"provider unavailable", types.NewError(types.MODEL_PROVIDER_UNAVAILABLE, "x"), true},
		{"invalid response", types.NewError(types.MODEL_RESPONSE_INVALID, "x"), false},
		{"rate limit message", errors.New("429 too many requests"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"plain error", errors.New("bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestToolCallArgumentsMap(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "security_scan", Arguments: `{"depth":"deep"}`}
	m, err := call.ArgumentsMap()
	require.NoError(t, err)
	assert.Equal(t, "deep", m["depth"])

	// Empty and null arguments are valid for parameterless tools.
	for _, raw := range []string{"", "null"} {
		m, err := ToolCall{Arguments: raw}.ArgumentsMap()
		require.NoError(t, err)
		assert.Empty(t, m)
	}

	_, err = ToolCall{Arguments: "{broken"}.ArgumentsMap()
	assert.Error(t, err)
}

func TestToolDefValidate(t *testing.T) {
	def := ToolDef{Name: "scan", Description: "scans things"}
	assert.NoError(t, def.Validate())

	assert.Error(t, ToolDef{Description: "no name"}.Validate())
	assert.Error(t, ToolDef{Name: "no-description"}.Validate())
}

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("you are an analyst")
	assert.Equal(t, RoleSystem, sys.Role)

	user := NewUserMessage("analyze this")
	assert.Equal(t, RoleUser, user.Role)

	toolMsg := NewToolResultMessage("c1", "security_scan", `{"ok":true}`)
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, "security_scan", toolMsg.ToolName)
}

func TestNewProviderRejectsUnknownBackend(t *testing.T) {
	for _, name := range []string{"", "fake", "carrier-pigeon"} {
		_, err := NewProvider(config.LLMConfig{Provider: name, Model: "gpt-4o"})
		require.Error(t, err, "provider %q", name)
		assert.Equal(t, types.MODEL_PROVIDER_ERROR, types.CodeOf(err))
	}
}
