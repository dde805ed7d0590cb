package config

import (
	"time"
)

// Config is the root configuration for the PSScript analysis service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm" validate:"required"`
	Workflow   WorkflowConfig   `mapstructure:"workflow" yaml:"workflow" validate:"required"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint" validate:"required"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address" yaml:"listen_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// AuthToken, when set, requires callers to present it as a bearer token.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// LLMConfig contains model provider configuration.
type LLMConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"oneof=openai anthropic ollama"`
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`

	// MaxRetries bounds retry attempts for transient provider errors.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	// RequestsPerSecond limits outbound provider calls across all workflows.
	// Zero disables rate limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// WorkflowConfig contains orchestrator tuning knobs.
type WorkflowConfig struct {
	// RiskThreshold is the aggregated risk score above which human review
	// is required.
	RiskThreshold float64 `mapstructure:"risk_threshold" yaml:"risk_threshold" validate:"min=0"`

	// ToolTimeout is the per-tool execution deadline.
	ToolTimeout time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout" validate:"min=1s"`

	// ToolConcurrency bounds parallel tool execution within one dispatch stage.
	ToolConcurrency int `mapstructure:"tool_concurrency" yaml:"tool_concurrency" validate:"min=1,max=32"`

	// MaxConcurrentWorkflows bounds simultaneously running threads.
	MaxConcurrentWorkflows int `mapstructure:"max_concurrent_workflows" yaml:"max_concurrent_workflows" validate:"min=1,max=256"`

	// MaxIterations guards against non-terminating analyze/dispatch loops.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations" validate:"min=1,max=64"`
}

// CheckpointConfig contains durable state storage settings.
type CheckpointConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`

	// Expiry is the age after which an inactive checkpoint is eligible for
	// cleanup and can no longer be resumed.
	Expiry time.Duration `mapstructure:"expiry" yaml:"expiry" validate:"min=1m"`

	// GCInterval is the background cleanup sweep period. Zero disables GC.
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
}

// EventsConfig contains progress stream settings.
type EventsConfig struct {
	// BufferSize is the per-thread event channel capacity. When full, the
	// oldest buffered event is dropped rather than stalling the workflow.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"min=1,max=4096"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}
