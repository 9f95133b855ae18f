package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
)

func TestGetEnvString(t *testing.T) {
	key := "TEST_STRING_VALUE"

	os.Unsetenv(key)
	assert.Equal(t, "default", getEnvString(key, "default"))

	t.Setenv(key, "value")
	assert.Equal(t, "value", getEnvString(key, "default"))

	t.Setenv(key, "")
	assert.Equal(t, "", getEnvString(key, "default"), "an explicitly empty value wins over the default")
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		expected     int
	}{
		{name: "env not set, return default", envValue: "", defaultValue: 10, expected: 10},
		{name: "env set to valid int", envValue: "42", defaultValue: 10, expected: 42},
		{name: "env set to negative int", envValue: "-1", defaultValue: 10, expected: -1},
		{name: "env set to invalid value, return default", envValue: "forty", defaultValue: 10, expected: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_INT_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvInt(key, tt.defaultValue))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{name: "env not set, return default", envValue: "", defaultValue: true, expected: true},
		{name: "env set to false", envValue: "false", defaultValue: true, expected: false},
		{name: "env set to 1", envValue: "1", defaultValue: false, expected: true},
		{name: "env set to invalid value, return default", envValue: "not_a_bool", defaultValue: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvBool(key, tt.defaultValue))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{name: "env not set, return default", envValue: "", defaultValue: time.Second, expected: time.Second},
		{name: "env set to valid duration", envValue: "5s", defaultValue: time.Second, expected: 5 * time.Second},
		{name: "env set to invalid duration, return default", envValue: "soon", defaultValue: time.Second, expected: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			assert.Equal(t, tt.expected, getEnvDuration(key, tt.defaultValue))
		})
	}
}

func TestNew(t *testing.T) {
	cfg := New()

	// Only the indexing defaults are set; everything else comes from LoadFromEnv
	assert.Equal(t, stackai.DefaultIndexingParams(), cfg.Indexing)
	assert.Empty(t, cfg.Database.Path)
	assert.Empty(t, cfg.API.BaseURL)
	assert.Empty(t, cfg.Logging.Level)
	assert.Zero(t, cfg.KnowledgeBase.CacheTTL)
}

// isolateEnv points LoadFromEnv at an empty config directory and clears the
// variables other tests may have set
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV_FILE_PATH", "")
	for _, key := range []string{
		"KBPICKER_API_BASE_URL", "KBPICKER_API_TIMEOUT", "KBPICKER_KB_NAME",
		"KBPICKER_KB_INDEXING_FILE", "KBPICKER_INDEXING_CHUNK_OVERLAP", "KBPICKER_LOG_LEVEL",
		"KBPICKER_DB_PATH", "KBPICKER_AUTH_ACCESS_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoadFromEnv(t *testing.T) {
	dir := isolateEnv(t)

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir())
	assert.Equal(t, filepath.Join(dir, "locks"), cfg.LocksDir())

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultAuthURL, cfg.API.AuthURL)
	assert.Equal(t, DefaultAnonKey, cfg.API.AnonKey)
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, "gdrive", cfg.API.Provider)

	assert.Equal(t, 256, cfg.KnowledgeBase.CacheSize)
	assert.Equal(t, 2*time.Minute, cfg.KnowledgeBase.CacheTTL)
	assert.Equal(t, stackai.DefaultIndexingParams(), cfg.Indexing)

	assert.Equal(t, filepath.Join(dir, "kbpicker.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "kbpicker.log"), cfg.Logging.Output)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.RFC3339, cfg.Logging.TimeFormat)
	assert.Empty(t, cfg.Metrics.TextfilePath)

	client := cfg.ClientConfig()
	assert.Equal(t, cfg.API.BaseURL, client.BaseURL)
	assert.Equal(t, cfg.API.BurstLimit, client.Burst)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("KBPICKER_API_BASE_URL", "http://localhost:8080")
	t.Setenv("KBPICKER_API_TIMEOUT", "5s")
	t.Setenv("KBPICKER_KB_NAME", "Team docs")
	t.Setenv("KBPICKER_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "Team docs", cfg.KnowledgeBase.Name)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvIndexingFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "indexing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ocr: true\nchunker_params:\n  chunk_size: 800\n"), 0644))

	t.Setenv("KBPICKER_KB_INDEXING_FILE", path)
	t.Setenv("KBPICKER_INDEXING_CHUNK_OVERLAP", "100")

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)

	assert.True(t, cfg.Indexing.OCR)
	assert.Equal(t, 800, cfg.Indexing.ChunkerParams.ChunkSize)
	assert.Equal(t, 100, cfg.Indexing.ChunkerParams.ChunkOverlap, "env wins over the file")
	assert.Equal(t, "sentence", cfg.Indexing.ChunkerParams.Chunker, "missing keys keep defaults")
	assert.Equal(t, "text-embedding-ada-002", cfg.Indexing.EmbeddingParams.EmbeddingModel)
}

func TestLoadFromEnvMissingIndexingFile(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("KBPICKER_KB_INDEXING_FILE", filepath.Join(dir, "missing.yaml"))

	_, err := LoadFromEnv(dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing file")
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := isolateEnv(t)
	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("KBPICKER_KB_NAME=From file\n"), 0600))
	t.Setenv("ENV_FILE_PATH", envFile)
	t.Cleanup(func() { os.Unsetenv("KBPICKER_KB_NAME") })

	cfg, err := LoadFromEnv(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "From file", cfg.KnowledgeBase.Name)
}

func TestIndexingFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexing.yaml")
	params := stackai.DefaultIndexingParams()
	params.ChunkerParams.ChunkSize = 2000

	require.NoError(t, WriteIndexingFile(path, params))
	loaded, err := LoadIndexingFile(path, stackai.IndexingParams{})
	require.NoError(t, err)
	assert.Equal(t, params, loaded)

	require.NoError(t, os.WriteFile(path, []byte("chunker_params: [not, a, map]\n"), 0644))
	_, err = LoadIndexingFile(path, params)
	assert.Error(t, err)
}

func TestSetupConfigDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kbpicker")

	require.NoError(t, SetupConfigDirectory(dir, false))
	assert.FileExists(t, filepath.Join(dir, ".env"))
	assert.FileExists(t, filepath.Join(dir, IndexingFileName))

	params, err := LoadIndexingFile(filepath.Join(dir, IndexingFileName), stackai.IndexingParams{})
	require.NoError(t, err)
	assert.Equal(t, stackai.DefaultIndexingParams(), params)

	// an existing .env is left alone unless a backup is requested
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KBPICKER_KB_NAME=x\n"), 0600))
	require.NoError(t, SetupConfigDirectory(dir, false))
	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "KBPICKER_KB_NAME=x\n", string(data))
}

func TestSetGet(t *testing.T) {
	Set(nil)

	_, err := Get()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")

	testCfg := New()
	testCfg.KnowledgeBase.Name = "kb"
	Set(testCfg)

	cfg, err := Get()
	assert.NoError(t, err)
	assert.Equal(t, "kb", cfg.KnowledgeBase.Name)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := New()
	cfg.API = APIConfig{
		BaseURL:           DefaultBaseURL,
		AuthURL:           DefaultAuthURL,
		Timeout:           time.Minute,
		MaxIdleConns:      10,
		IdleConnTimeout:   time.Minute,
		RequestsPerMinute: 60,
		BurstLimit:        1,
	}
	cfg.KnowledgeBase = KnowledgeBaseConfig{CacheSize: 16, CacheTTL: time.Minute, LockTimeout: time.Second}
	cfg.Database = DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5000,
		ConnMaxLife:  5 * time.Minute,
		QueryTimeout: 30 * time.Second,
	}
	cfg.Logging = LoggingConfig{Level: "info", Format: "text"}
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"missing base URL", func(c *Config) { c.API.BaseURL = "" }, "API config"},
		{"zero rate limit", func(c *Config) { c.API.RequestsPerMinute = 0 }, "API config"},
		{"cache without TTL", func(c *Config) { c.KnowledgeBase.CacheTTL = 0 }, "knowledge base config"},
		{"zero lock timeout", func(c *Config) { c.KnowledgeBase.LockTimeout = 0 }, "knowledge base config"},
		{"overlap not below size", func(c *Config) { c.Indexing.ChunkerParams.ChunkOverlap = 1500 }, "indexing config"},
		{"missing embedding model", func(c *Config) { c.Indexing.EmbeddingParams.EmbeddingModel = "" }, "indexing config"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database config"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }, "logging config"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "logging config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.section)
		})
	}

	t.Run("disabled cache needs no TTL", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.KnowledgeBase.CacheSize = -1
		cfg.KnowledgeBase.CacheTTL = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestParseLoglevel(t *testing.T) {
	tests := []struct {
		level  string
		expect slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"none", slog.Level(9999)},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expect, ParseLogLevel(tt.level))
		})
	}
}

func TestGetTimeFormat(t *testing.T) {
	assert.Equal(t, time.RFC3339, getTimeFormat("RFC3339"))
	assert.Equal(t, "2006-01-02", getTimeFormat("Date"))
	assert.Equal(t, "15:04", getTimeFormat("15:04"), "unknown names are used as layouts")
}

func TestCheckDirectoryWritable(t *testing.T) {
	assert.NoError(t, checkDirectoryWritable(t.TempDir()))
	assert.Error(t, checkDirectoryWritable("/path/that/does/not/exist"))
}
