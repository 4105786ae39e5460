// Package config loads guidelint configuration from file, environment,
// and defaults.
package config

import "errors"

// Config is the top-level configuration struct for guidelint.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Policy       string        `mapstructure:"policy"`
	Include      []string      `mapstructure:"include"`
	Exclude      []string      `mapstructure:"exclude"`
	BatchSize    int           `mapstructure:"batch_size"`
	Workers      int           `mapstructure:"workers"`
	MaxFileSize  int64         `mapstructure:"max_file_size"`
	ProgressPath string        `mapstructure:"progress_path"`
	Cache        CacheConfig   `mapstructure:"cache"`
	Service      ServiceConfig `mapstructure:"service"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Path     string `mapstructure:"path"`
	Compress bool   `mapstructure:"compress"`
}

// ServiceConfig holds analysis service settings. The API key is read from
// the environment variable named by APIKeyEnv, never from the config file.
type ServiceConfig struct {
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	GitTimeoutSecs int    `mapstructure:"git_timeout_seconds"`
}

// RetryConfig holds transient-failure retry tuning.
type RetryConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts"`
	InitialDelaySec float64 `mapstructure:"initial_delay_seconds"`
	BackoffFactor   float64 `mapstructure:"backoff_factor"`
}

// Validation errors.
var (
	ErrEmptyPolicy      = errors.New("policy document path must not be empty")
	ErrBadBatchSize     = errors.New("batch_size must be positive")
	ErrBadWorkers       = errors.New("workers must be positive")
	ErrBadMaxFileSize   = errors.New("max_file_size must be positive")
	ErrBadMaxAttempts   = errors.New("retry.max_attempts must be at least 1")
	ErrBadBackoffFactor = errors.New("retry.backoff_factor must be at least 1")
)

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Policy == "" {
		return ErrEmptyPolicy
	}

	if c.BatchSize <= 0 {
		return ErrBadBatchSize
	}

	if c.Workers <= 0 {
		return ErrBadWorkers
	}

	if c.MaxFileSize <= 0 {
		return ErrBadMaxFileSize
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrBadMaxAttempts
	}

	if c.Retry.BackoffFactor < 1 {
		return ErrBadBackoffFactor
	}

	return nil
}
