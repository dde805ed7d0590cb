package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := getDefaultHomeDir()

	return &Config{
		Server: ServerConfig{
			ListenAddress:   "0.0.0.0:8085",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     10 * time.Second,
			RequestsPerSecond: 5,
		},
		Workflow: WorkflowConfig{
			RiskThreshold:          20,
			ToolTimeout:            30 * time.Second,
			ToolConcurrency:        4,
			MaxConcurrentWorkflows: 8,
			MaxIterations:          8,
		},
		Checkpoint: CheckpointConfig{
			Path:        filepath.Join(homeDir, "psscript.db"),
			BusyTimeout: 5 * time.Second,
			Expiry:      24 * time.Hour,
			GCInterval:  time.Hour,
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultConfigPath returns the default config file location under the
// service home directory.
func DefaultConfigPath() string {
	return filepath.Join(getDefaultHomeDir(), "config.yaml")
}

// getDefaultHomeDir returns the service home directory, honoring the
// PSSCRIPT_HOME override.
func getDefaultHomeDir() string {
	if home := os.Getenv("PSSCRIPT_HOME"); home != "" {
		return home
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".psscript"
	}
	return filepath.Join(userHome, ".psscript")
}
