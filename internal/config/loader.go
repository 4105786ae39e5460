package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".guidelint"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for guidelint settings.
const envPrefix = "GUIDELINT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values.
const (
	DefaultPolicy         = "GUIDELINES.md"
	DefaultBatchSize      = 10
	DefaultWorkers        = 4
	DefaultMaxFileSize    = 1 << 20 // 1 MiB: larger files are reported, not sent.
	DefaultCachePath      = ".guidelint/cache.json"
	DefaultProgressPath   = ".guidelint/progress.json"
	DefaultModel          = "gpt-4o-mini"
	DefaultAPIKeyEnv      = "OPENAI_API_KEY"
	DefaultTimeoutSecs    = 120
	DefaultGitTimeoutSecs = 30
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = 1.0
	DefaultBackoffFactor  = 2.0
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("policy", DefaultPolicy)
	viperCfg.SetDefault("include", []string{})
	viperCfg.SetDefault("exclude", []string{".guidelint/**"})
	viperCfg.SetDefault("batch_size", DefaultBatchSize)
	viperCfg.SetDefault("workers", DefaultWorkers)
	viperCfg.SetDefault("max_file_size", DefaultMaxFileSize)
	viperCfg.SetDefault("progress_path", DefaultProgressPath)

	viperCfg.SetDefault("cache.path", DefaultCachePath)
	viperCfg.SetDefault("cache.compress", false)

	viperCfg.SetDefault("service.model", DefaultModel)
	viperCfg.SetDefault("service.base_url", "")
	viperCfg.SetDefault("service.api_key_env", DefaultAPIKeyEnv)
	viperCfg.SetDefault("service.timeout_seconds", DefaultTimeoutSecs)
	viperCfg.SetDefault("service.git_timeout_seconds", DefaultGitTimeoutSecs)

	viperCfg.SetDefault("retry.max_attempts", DefaultMaxAttempts)
	viperCfg.SetDefault("retry.initial_delay_seconds", DefaultInitialDelay)
	viperCfg.SetDefault("retry.backoff_factor", DefaultBackoffFactor)
}
