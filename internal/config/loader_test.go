package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	loader := NewConfigLoader(NewValidator())

	cfg, err := loader.LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8085", cfg.Server.ListenAddress)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 20.0, cfg.Workflow.RiskThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.Expiry)
}

func TestLoadWithDefaultsPartialFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9000"
workflow:
  risk_threshold: 35
`)

	loader := NewConfigLoader(NewValidator())
	cfg, err := loader.LoadWithDefaults(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddress)
	assert.Equal(t, 35.0, cfg.Workflow.RiskThreshold)
	// Values absent from the file keep their defaults.
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Workflow.ToolConcurrency)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	loader := NewConfigLoader(NewValidator())
	_, err := loader.Load(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_FAILED, types.CodeOf(err))
}

func TestLoadWithDefaultsRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: "carrier-pigeon"
`)

	loader := NewConfigLoader(NewValidator())
	_, err := loader.LoadWithDefaults(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
	assert.Contains(t, err.Error(), "Provider")
}

func TestLoadRejectsTestDoubleProvider(t *testing.T) {
	// Every provider the validator accepts must be constructible; "fake"
	// exists only as a test double, never as a configurable backend.
	path := writeConfig(t, `
llm:
  provider: "fake"
`)

	loader := NewConfigLoader(NewValidator())
	_, err := loader.LoadWithDefaults(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
	assert.Contains(t, err.Error(), "Provider")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PSSCRIPT_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("PSSCRIPT_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("PSSCRIPT_API_TOKEN", "override-token")
	t.Setenv("PSSCRIPT_LLM_API_KEY", "env-key")

	loader := NewConfigLoader(NewValidator())
	cfg, err := loader.LoadWithDefaults("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddress)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "override-token", cfg.Server.AuthToken)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
}

func TestAPIKeyFromFileWinsOverEnvironment(t *testing.T) {
	t.Setenv("PSSCRIPT_LLM_API_KEY", "env-key")
	path := writeConfig(t, `
llm:
  api_key: "file-key"
`)

	loader := NewConfigLoader(NewValidator())
	cfg, err := loader.LoadWithDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
}

func TestValidatorCrossFieldChecks(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.LLM.RetryBaseDelay = 20 * time.Second
	cfg.LLM.RetryMaxDelay = 5 * time.Second
	require.Error(t, v.Validate(cfg))

	cfg = DefaultConfig()
	cfg.Checkpoint.Path = ""
	require.Error(t, v.Validate(cfg))

	require.Error(t, v.Validate(nil))
	require.NoError(t, v.Validate(DefaultConfig()))
}
