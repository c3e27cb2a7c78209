package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// StoreConfig configures the knowledge base backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SeedOnStart bool   `yaml:"seed_on_start" mapstructure:"seed_on_start"`
}

// EmbeddingConfig selects how passages are embedded.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// LLMConfig configures the generative completion capability.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Google GenAI settings.
type GeminiConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	Model          string `yaml:"model" mapstructure:"model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// RetrievalConfig configures evidence ranking.
type RetrievalConfig struct {
	UsageThreshold   float64 `yaml:"usage_threshold" mapstructure:"usage_threshold"`
	SubjectThreshold float64 `yaml:"subject_threshold" mapstructure:"subject_threshold"`
	SubjectLimit     int     `yaml:"subject_limit" mapstructure:"subject_limit"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures job scheduling.
type PipelineConfig struct {
	JobTimeoutSecs   int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	MaxParallelSteps int `yaml:"max_parallel_steps" mapstructure:"max_parallel_steps"`
}

// ResilienceConfig configures retry and circuit breaking for generative calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional config.yaml in the working directory; an
// explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PHARMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "knowledge.db")
	v.SetDefault("store.seed_on_start", true)
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.dimensions", 256)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout_secs", 30)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.rate_per_sec", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("retrieval.usage_threshold", 0.2)
	v.SetDefault("retrieval.subject_threshold", 0.3)
	v.SetDefault("retrieval.subject_limit", 10)
	v.SetDefault("retrieval.timeout_secs", 10)
	v.SetDefault("pipeline.job_timeout_secs", 300)
	v.SetDefault("pipeline.max_parallel_steps", 4)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 250)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: analyze,
// serve, kb, ask.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze", "serve", "kb", "ask":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "memory", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite|postgres|memory|none", c.Store.Driver))
	}

	switch c.Embedding.Provider {
	case "hash":
		if c.Embedding.Dimensions < 16 {
			errs = append(errs, "embedding.dimensions must be >= 16")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required for gemini embeddings")
		}
	default:
		errs = append(errs, fmt.Sprintf("embedding.provider %q is not one of hash|gemini", c.Embedding.Provider))
	}

	switch c.LLM.Provider {
	case "anthropic", "gemini", "none":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not one of anthropic|gemini|none", c.LLM.Provider))
	}

	if !inUnit(c.Retrieval.UsageThreshold) {
		errs = append(errs, "retrieval.usage_threshold must be between 0 and 1")
	}
	if !inUnit(c.Retrieval.SubjectThreshold) {
		errs = append(errs, "retrieval.subject_threshold must be between 0 and 1")
	}
	if c.Retrieval.SubjectLimit <= 0 {
		errs = append(errs, "retrieval.subject_limit must be > 0")
	}
	if c.Pipeline.MaxParallelSteps < 0 || c.Pipeline.MaxParallelSteps > 16 {
		errs = append(errs, "pipeline.max_parallel_steps must be between 0 and 16")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errs = append(errs, "llm.temperature must be between 0 and 1")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
