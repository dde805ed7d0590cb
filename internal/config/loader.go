package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// ConfigLoader handles loading configuration from files.
type ConfigLoader interface {
	Load(path string) (*Config, error)
	LoadWithDefaults(path string) (*Config, error)
}

// viperConfigLoader implements ConfigLoader using Viper.
type viperConfigLoader struct {
	validator ConfigValidator
}

// NewConfigLoader creates a new ConfigLoader instance.
func NewConfigLoader(validator ConfigValidator) ConfigLoader {
	return &viperConfigLoader{
		validator: validator,
	}
}

// Load loads configuration from the specified file path.
// Returns an error if the file doesn't exist or cannot be parsed.
func (l *viperConfigLoader) Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read config file", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to unmarshal config", err)
	}

	applyEnvironmentOverrides(&cfg)

	if err := l.validator.Validate(&cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "configuration validation failed", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads configuration from the given path, falling back to
// DefaultConfig when the file does not exist. Values present in the file
// override defaults; missing values keep their defaults.
func (l *viperConfigLoader) LoadWithDefaults(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		applyEnvironmentOverrides(cfg)
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvironmentOverrides(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read config file", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to unmarshal config", err)
	}

	applyEnvironmentOverrides(cfg)

	if err := l.validator.Validate(cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED, "configuration validation failed", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides checks for environment variables and overrides
// the config values if they are set.
//
// Supported environment variables:
//   - PSSCRIPT_LISTEN_ADDRESS: overrides Server.ListenAddress
//   - PSSCRIPT_LLM_PROVIDER: overrides LLM.Provider
//   - PSSCRIPT_LLM_MODEL: overrides LLM.Model
//   - PSSCRIPT_LLM_API_KEY / OPENAI_API_KEY / ANTHROPIC_API_KEY: LLM.APIKey
//   - PSSCRIPT_CHECKPOINT_PATH: overrides Checkpoint.Path
//   - PSSCRIPT_API_TOKEN: overrides Server.AuthToken
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("PSSCRIPT_LISTEN_ADDRESS"); addr != "" {
		cfg.Server.ListenAddress = addr
	}

	if token := os.Getenv("PSSCRIPT_API_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}

	if provider := os.Getenv("PSSCRIPT_LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}

	if model := os.Getenv("PSSCRIPT_LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	if cfg.LLM.APIKey == "" {
		for _, env := range []string{"PSSCRIPT_LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
			if key := os.Getenv(env); key != "" {
				cfg.LLM.APIKey = key
				break
			}
		}
	}

	if path := os.Getenv("PSSCRIPT_CHECKPOINT_PATH"); path != "" {
		cfg.Checkpoint.Path = path
	}
}
