package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "knowledge.db", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Store.SeedOnStart)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 256, cfg.Embedding.Dimensions)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 30, cfg.LLM.TimeoutSecs)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Retrieval.UsageThreshold, 0.001)
	assert.InDelta(t, 0.3, cfg.Retrieval.SubjectThreshold, 0.001)
	assert.Equal(t, 10, cfg.Retrieval.SubjectLimit)
	assert.Equal(t, 300, cfg.Pipeline.JobTimeoutSecs)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, "gemini-embedding-001", cfg.Gemini.EmbeddingModel)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: memory
log:
  level: debug
  format: console
llm:
  provider: none
retrieval:
  usage_threshold: 0.25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.InDelta(t, 0.25, cfg.Retrieval.UsageThreshold, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Retrieval.SubjectLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PHARMA_STORE_DRIVER", "postgres")
	t.Setenv("PHARMA_LOG_LEVEL", "warn")
	t.Setenv("PHARMA_PIPELINE_JOB_TIMEOUT_SECS", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45, cfg.Pipeline.JobTimeoutSecs)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileExplicitPath(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("config.yaml", []byte("store:\n  driver: postgres\n"), 0644))

	path := filepath.Join(t.TempDir(), "staging.yml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nserver:\n  port: 9100\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileMissing(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "knowledge.db"
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 256
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Temperature = 0.3
	cfg.Retrieval.UsageThreshold = 0.2
	cfg.Retrieval.SubjectThreshold = 0.3
	cfg.Retrieval.SubjectLimit = 10
	cfg.Pipeline.MaxParallelSteps = 4
	cfg.Server.Port = 8000
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	for _, mode := range []string{"analyze", "serve", "kb", "ask"} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateDrivers(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongo"
	cfg.LLM.Provider = "openai"
	cfg.Embedding.Provider = "bert"

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "embedding.provider")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("kb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate("kb"))
}

func TestValidateGeminiEmbeddingNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Embedding.Provider = "gemini"

	err := cfg.Validate("kb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key")

	cfg.Gemini.Key = "k"
	assert.NoError(t, cfg.Validate("kb"))
}

func TestValidateThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Retrieval.UsageThreshold = 1.5
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage_threshold")

	cfg.Retrieval.UsageThreshold = 0.2
	cfg.Retrieval.SubjectThreshold = -0.1
	err = cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject_threshold")

	cfg.Retrieval.SubjectThreshold = 0.3
	cfg.LLM.Temperature = 2
	err = cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}

func TestValidateServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("analyze"))
}
