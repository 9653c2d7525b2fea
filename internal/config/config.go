// Package config defines the application configuration, loaded through viper
// from config.yaml, environment variables, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment"`
	Logger      LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	Providers   ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Router      RouterConfig    `mapstructure:"router" yaml:"router"`
	Parallel    ParallelConfig  `mapstructure:"parallel" yaml:"parallel"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Jobs        JobsConfig      `mapstructure:"jobs" yaml:"jobs"`
	Cache       CacheConfig     `mapstructure:"cache" yaml:"cache"`
}

// Development reports whether detailed error payloads may be exposed.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogDir      string `mapstructure:"log_dir" yaml:"log_dir"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// ProviderConfig defines the settings for one LLM vendor adapter.
type ProviderConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"-"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	Model           string        `mapstructure:"model" yaml:"model"`
	SupportedModels []string      `mapstructure:"supported_models" yaml:"supported_models"`
	APITimeout      time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Temperature     float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RateLimit is requests per second admitted to the vendor; 0 disables.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ProvidersConfig carries the per-vendor blocks plus breaker settings shared
// by every adapter.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai" yaml:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini" yaml:"gemini"`
	Anthropic ProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	DeepSeek  ProviderConfig `mapstructure:"deepseek" yaml:"deepseek"`
	Kimi      ProviderConfig `mapstructure:"kimi" yaml:"kimi"`

	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset" yaml:"breaker_reset"`
	// RetryBaseDelay seeds the orchestrator-level retry backoff around a
	// whole provider call, above the adapter's own 429/503 retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// RouterConfig tunes provider selection.
type RouterConfig struct {
	DefaultStrategy  string  `mapstructure:"default_strategy" yaml:"default_strategy"`
	MinSuccessRate   float64 `mapstructure:"min_success_rate" yaml:"min_success_rate"`
	MaxCostPerCall   float64 `mapstructure:"max_cost_per_call" yaml:"max_cost_per_call"`
	CostWeight       float64 `mapstructure:"cost_weight" yaml:"cost_weight"`
	SpeedWeight      float64 `mapstructure:"speed_weight" yaml:"speed_weight"`
	QualityWeight    float64 `mapstructure:"quality_weight" yaml:"quality_weight"`
	HealthWeight     float64 `mapstructure:"health_weight" yaml:"health_weight"`
}

// ParallelConfig tunes the chunking executor.
type ParallelConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	Threshold  int  `mapstructure:"threshold" yaml:"threshold"`
	ChunkSize  int  `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxWorkers int  `mapstructure:"max_workers" yaml:"max_workers"`
}

// PipelineConfig tunes post-processing.
type PipelineConfig struct {
	DedupThreshold   float64 `mapstructure:"dedup_threshold" yaml:"dedup_threshold"`
	QualityEnabled   bool    `mapstructure:"quality_enabled" yaml:"quality_enabled"`
	QualityBatchSize int     `mapstructure:"quality_batch_size" yaml:"quality_batch_size"`
	BalanceEnabled   bool    `mapstructure:"balance_enabled" yaml:"balance_enabled"`
}

// JobsConfig tunes the asynchronous job queue.
type JobsConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	DatabaseURL   string        `mapstructure:"database_url" yaml:"-"`
	CompletedTTL  time.Duration `mapstructure:"completed_ttl" yaml:"completed_ttl"`
}

// CacheConfig tunes the generation result cache.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "quizforge")
	v.SetDefault("logger.log_dir", "logs")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", 32<<20)

	// -- Providers --
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("providers.breaker_reset", "60s")
	v.SetDefault("providers.retry_base_delay", "2s")
	for _, p := range []string{"openai", "gemini", "anthropic", "deepseek", "kimi"} {
		v.SetDefault("providers."+p+".api_timeout", "120s")
		v.SetDefault("providers."+p+".max_retries", 3)
		v.SetDefault("providers."+p+".base_delay", "1s")
		v.SetDefault("providers."+p+".temperature", 0.7)
		v.SetDefault("providers."+p+".max_tokens", 8192)
		v.SetDefault("providers."+p+".rate_limit", 0)
	}
	v.SetDefault("providers.openai.supported_models", []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"})
	v.SetDefault("providers.gemini.supported_models", []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"})
	v.SetDefault("providers.anthropic.supported_models", []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"})
	v.SetDefault("providers.deepseek.supported_models", []string{"deepseek-chat"})
	v.SetDefault("providers.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("providers.kimi.supported_models", []string{"moonshot-v1-8k", "moonshot-v1-32k"})
	v.SetDefault("providers.kimi.base_url", "https://api.moonshot.ai/v1")

	// -- Router --
	v.SetDefault("router.default_strategy", "balanced")
	v.SetDefault("router.min_success_rate", 0.5)
	v.SetDefault("router.max_cost_per_call", 0.01)
	v.SetDefault("router.cost_weight", 0.30)
	v.SetDefault("router.speed_weight", 0.25)
	v.SetDefault("router.quality_weight", 0.25)
	v.SetDefault("router.health_weight", 0.20)

	// -- Parallel --
	v.SetDefault("parallel.enabled", true)
	v.SetDefault("parallel.threshold", 20)
	v.SetDefault("parallel.chunk_size", 10)
	v.SetDefault("parallel.max_workers", 5)

	// -- Pipeline --
	v.SetDefault("pipeline.dedup_threshold", 85)
	v.SetDefault("pipeline.quality_enabled", true)
	v.SetDefault("pipeline.quality_batch_size", 5)
	v.SetDefault("pipeline.balance_enabled", true)

	// -- Jobs --
	v.SetDefault("jobs.max_concurrent", 3)
	v.SetDefault("jobs.completed_ttl", "24h")

	// -- Cache --
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", "1h")
}

// BindEnv wires the well-known environment variables. Vendor API keys use
// their conventional names rather than the QUIZFORGE_ prefix so existing
// shell setups keep working.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("QUIZFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("providers.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("providers.kimi.api_key", "KIMI_API_KEY")
	// The CN variant swaps the Moonshot endpoint along with the key.
	v.BindEnv("providers.kimi.api_key_cn", "KIMI_API_KEY_CN")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("environment", "NODE_ENV", "QUIZFORGE_ENVIRONMENT")
	v.BindEnv("jobs.database_url", "DATABASE_URL")
	v.BindEnv("cache.redis_addr", "REDIS_ADDR")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// KIMI_API_KEY_CN overrides the key and pins the Chinese endpoint.
	if cn := v.GetString("providers.kimi.api_key_cn"); cn != "" {
		cfg.Providers.Kimi.APIKey = cn
		cfg.Providers.Kimi.BaseURL = "https://api.moonshot.cn/v1"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Parallel.ChunkSize <= 0 {
		return fmt.Errorf("parallel.chunk_size must be a positive integer")
	}
	if c.Parallel.MaxWorkers <= 0 {
		return fmt.Errorf("parallel.max_workers must be a positive integer")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be a positive integer")
	}
	if c.Pipeline.DedupThreshold < 0 || c.Pipeline.DedupThreshold > 100 {
		return fmt.Errorf("pipeline.dedup_threshold must be within [0, 100]")
	}
	if c.Router.MinSuccessRate < 0 || c.Router.MinSuccessRate > 1 {
		return fmt.Errorf("router.min_success_rate must be within [0, 1]")
	}
	wsum := c.Router.CostWeight + c.Router.SpeedWeight + c.Router.QualityWeight + c.Router.HealthWeight
	if wsum < 0.99 || wsum > 1.01 {
		return fmt.Errorf("router strategy weights must sum to 1, got %.2f", wsum)
	}
	return nil
}
