package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vibelog/vibelog/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all vibelog configuration.
type Config struct {
	Listen     string                                `yaml:"listen"`
	DBPath     string                                `yaml:"db_path"`
	DataDir    string                                `yaml:"data_dir"`
	PublicBase string                                `yaml:"public_base"`
	Breaker    BreakerConfig                         `yaml:"breaker"`
	Cache      CacheConfig                           `yaml:"cache"`
	RateLimits map[models.Operation]OperationLimits  `yaml:"rate_limits"`
	Providers  map[models.Operation][]ProviderConfig `yaml:"providers"`
	Auth       AuthConfig                            `yaml:"auth"`

	// FollowupLanguages are auto-translation targets for new transcripts.
	FollowupLanguages []string       `yaml:"followup_languages"`
	Degraded          DegradedConfig `yaml:"degraded"`
	Tasks             TasksConfig    `yaml:"tasks"`
}

// BreakerConfig controls the daily spend circuit breaker.
type BreakerConfig struct {
	DailyCeilingUSD float64 `yaml:"daily_ceiling_usd"`
}

// CacheConfig controls the content-addressed response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Limit is one rate-limit tuple: at most Max requests per Window.
type Limit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// OperationLimits holds the anonymous and authenticated limits for one
// operation kind. Authenticated callers get the higher limit.
type OperationLimits struct {
	Anonymous     Limit `yaml:"anonymous"`
	Authenticated Limit `yaml:"authenticated"`
}

// RetryConfig tunes the retry executor for one provider.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
	JitterCap    time.Duration `yaml:"jitter_cap"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// ProviderConfig defines one upstream AI provider in a fallback chain.
// Type selects the adapter: openai_transcribe, openai_image, openai_chat,
// stability, gemini, modal_speech.
type ProviderConfig struct {
	Name           string      `yaml:"name"`
	Type           string      `yaml:"type"`
	URL            string      `yaml:"url"`
	APIKey         string      `yaml:"api_key"`
	Model          string      `yaml:"model"`
	CostUSD        float64     `yaml:"cost_usd"`
	CostPer1KChars float64     `yaml:"cost_per_1k_chars"`
	BillsFailures  bool        `yaml:"bills_failures"`
	AttemptCostUSD float64     `yaml:"attempt_cost_usd"`
	Retry          RetryConfig `yaml:"retry"`
}

// AuthConfig maps verified session tokens to user ids. The limiter and
// ledger only ever see identities derived here, never client-asserted ones.
type AuthConfig struct {
	SessionTokens map[string]string `yaml:"session_tokens"`
	TrustProxy    bool              `yaml:"trust_proxy"`
}

// DegradedConfig is the static placeholder returned when every image
// provider fails.
type DegradedConfig struct {
	ImageURL string `yaml:"image_url"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
}

// TasksConfig sizes the background enrichment queue.
type TasksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	limits := make(map[models.Operation]OperationLimits, len(models.Operations))
	for _, op := range models.Operations {
		limits[op] = OperationLimits{
			Anonymous:     Limit{Max: 10, Window: 24 * time.Hour},
			Authenticated: Limit{Max: 100, Window: 24 * time.Hour},
		}
	}
	return &Config{
		Listen:     ":8080",
		DBPath:     "vibelog.db",
		DataDir:    "data",
		PublicBase: "http://localhost:8080",
		Breaker:    BreakerConfig{DailyCeilingUSD: 25},
		Cache:      CacheConfig{Enabled: true},
		RateLimits: limits,
		Degraded: DegradedConfig{
			ImageURL: "/static/cover-default.png",
			Width:    1024,
			Height:   576,
		},
		Tasks: TasksConfig{Workers: 2, QueueSize: 64},
	}
}

// DefaultRetry fills zero fields of a RetryConfig.
func DefaultRetry(rc RetryConfig) RetryConfig {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 3
	}
	if rc.BaseDelay <= 0 {
		rc.BaseDelay = 500 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 10 * time.Second
	}
	if rc.Multiplier <= 0 {
		rc.Multiplier = 2
	}
	if rc.Jitter && rc.JitterCap <= 0 {
		rc.JitterCap = 250 * time.Millisecond
	}
	return rc
}

// LimitsFor returns the configured limits for an operation, falling back
// to defaults when the operation is absent from the config file.
func (c *Config) LimitsFor(op models.Operation) OperationLimits {
	if l, ok := c.RateLimits[op]; ok {
		return l
	}
	return OperationLimits{
		Anonymous:     Limit{Max: 10, Window: 24 * time.Hour},
		Authenticated: Limit{Max: 100, Window: 24 * time.Hour},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
