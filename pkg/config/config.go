// Package config loads and validates the learning core's settings.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/acelabs/ace-go/pkg/errors"
)

// ProviderConfig selects and authenticates the model backend.
type ProviderConfig struct {
	// Model is the model id: an Anthropic model name, or
	// "ollama:<model>" for a local Ollama instance.
	Model string `yaml:"model" validate:"required"`

	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey string `yaml:"api_key"`
}

// StoreConfig selects the playbook store backend.
type StoreConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// store.
	Path string `yaml:"path"`
}

// GatewayConfig tunes retry and timeout behavior for model calls.
type GatewayConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" validate:"gte=1"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" validate:"gt=0"`
	CallTimeoutSec    int     `yaml:"call_timeout_sec" validate:"gte=0"`
}

// CurationConfig tunes the playbook maintenance policy.
type CurationConfig struct {
	// RemovalThreshold is the harmful count at which a bullet becomes
	// removable. Zero disables removal.
	RemovalThreshold int `yaml:"removal_threshold" validate:"gte=0"`

	MinInsightConfidence float64 `yaml:"min_insight_confidence" validate:"gte=0,lte=1"`

	// SimilarityThreshold enables the token-set dedup tier when above
	// zero.
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`

	// MaxStrategies caps how many bullets enter a Generator prompt.
	MaxStrategies int `yaml:"max_strategies" validate:"gte=1"`
}

// Config is the complete configuration for the learning core.
type Config struct {
	// Enabled is the global feature flag. When false the learning loop
	// is never constructed and the calling agent runs its baseline path.
	Enabled bool `yaml:"enabled"`

	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Curation CurationConfig `yaml:"curation"`
}

// Default returns the baseline configuration: disabled, in-memory
// store, conservative curation.
func Default() Config {
	return Config{
		Enabled: false,
		Provider: ProviderConfig{
			Model: "ollama:llama3",
		},
		Gateway: GatewayConfig{
			MaxAttempts:       3,
			BackoffMultiplier: 2.0,
			CallTimeoutSec:    120,
		},
		Curation: CurationConfig{
			RemovalThreshold:     5,
			MinInsightConfidence: 0.7,
			SimilarityThreshold:  0.85,
			MaxStrategies:        20,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path})
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.InvalidInput, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration's structural constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}
	return nil
}
