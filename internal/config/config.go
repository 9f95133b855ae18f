package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tildaslashalef/kbpicker/internal/stackai"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	API           APIConfig
	Auth          AuthConfig
	KnowledgeBase KnowledgeBaseConfig
	Indexing      stackai.IndexingParams // Passed through untouched on create
	Database      DatabaseConfig
	Logging       LoggingConfig
	Metrics       MetricsConfig
	configDir     string // Internal: Directory where config was loaded from
}

// APIConfig holds the Stack AI endpoints and transport tuning
type APIConfig struct {
	BaseURL string // REST API base URL
	AuthURL string // Supabase auth base URL
	AnonKey string // Public anon key sent as the Apikey header on login

	Timeout         time.Duration // Per-request timeout
	MaxIdleConns    int           // Maximum number of idle connections
	IdleConnTimeout time.Duration // How long to keep idle connections alive

	// Rate limiting
	RequestsPerMinute int
	BurstLimit        int

	Provider string // Connection provider used to pick the default connection
}

// AuthConfig holds credentials. The access token obtained by login is kept in
// the settings table, not here, unless provided explicitly.
type AuthConfig struct {
	Email       string
	Password    string
	AccessToken string
}

// KnowledgeBaseConfig controls knowledge-base creation and listing
type KnowledgeBaseConfig struct {
	Name         string // Name for new knowledge bases; a random one is generated when empty
	Description  string
	IndexingFile string        // Optional YAML file overriding the indexing parameters
	CacheSize    int           // Connection listing cache entries; negative disables the cache
	CacheTTL     time.Duration // Connection listing cache TTL
	LockTimeout  time.Duration // How long a command waits for the cross-process lock
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// MetricsConfig controls metrics export
type MetricsConfig struct {
	TextfilePath string // node-exporter textfile written on shutdown; empty disables
}

// New returns a new empty Config
func New() *Config {
	return &Config{
		API:           APIConfig{},
		Auth:          AuthConfig{},
		KnowledgeBase: KnowledgeBaseConfig{},
		Indexing:      stackai.DefaultIndexingParams(),
		Database:      DatabaseConfig{},
		Logging:       LoggingConfig{},
		Metrics:       MetricsConfig{},
	}
}

// Dir returns the directory the configuration was loaded from
func (c *Config) Dir() string {
	return c.configDir
}

// LocksDir returns the directory holding cross-process lock files
func (c *Config) LocksDir() string {
	return filepath.Join(c.configDir, "locks")
}

// ClientConfig maps the API section onto the REST client configuration
func (c *Config) ClientConfig() stackai.Config {
	return stackai.Config{
		BaseURL:           c.API.BaseURL,
		AuthURL:           c.API.AuthURL,
		AnonKey:           c.API.AnonKey,
		Timeout:           c.API.Timeout,
		RequestsPerMinute: c.API.RequestsPerMinute,
		Burst:             c.API.BurstLimit,
		MaxIdleConns:      c.API.MaxIdleConns,
		IdleConnTimeout:   c.API.IdleConnTimeout,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("API config: %w", err)
	}

	if err := c.validateKnowledgeBase(); err != nil {
		return fmt.Errorf("knowledge base config: %w", err)
	}

	if err := c.validateIndexing(); err != nil {
		return fmt.Errorf("indexing config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	if c.API.AuthURL == "" {
		return fmt.Errorf("auth URL cannot be empty")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.API.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}

	if c.API.BurstLimit <= 0 {
		return fmt.Errorf("burst_limit must be positive")
	}

	if c.API.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive")
	}

	if c.API.IdleConnTimeout <= 0 {
		return fmt.Errorf("idle_conn_timeout must be positive")
	}

	return nil
}

func (c *Config) validateKnowledgeBase() error {
	if c.KnowledgeBase.CacheSize >= 0 && c.KnowledgeBase.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	if c.KnowledgeBase.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}

	return nil
}

func (c *Config) validateIndexing() error {
	if c.Indexing.EmbeddingParams.EmbeddingModel == "" {
		return fmt.Errorf("embedding model cannot be empty")
	}

	if c.Indexing.ChunkerParams.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}

	if c.Indexing.ChunkerParams.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap cannot be negative")
	}

	if c.Indexing.ChunkerParams.ChunkOverlap >= c.Indexing.ChunkerParams.ChunkSize {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	if c.Indexing.ChunkerParams.Chunker == "" {
		return fmt.Errorf("chunker type cannot be empty")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	// Check if directory is writable
	if err := checkDirectoryWritable(dir); err != nil {
		return fmt.Errorf("database directory: %w", err)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	// Validate logging level
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate format
	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getTimeFormat converts a named time format to its actual format string
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "RFC822":
		return time.RFC822
	case "RFC1123":
		return time.RFC1123
	case "Kitchen":
		return time.Kitchen
	case "Stamp":
		return time.Stamp
	case "StampMilli":
		return time.StampMilli
	case "DateTime":
		return "2006-01-02 15:04:05"
	case "DateTimeMS":
		return "2006-01-02 15:04:05.000"
	case "Date":
		return "2006-01-02"
	case "Time":
		return "15:04:05"
	default:
		return name
	}
}

// checkDirectoryWritable tests if a directory is writable
func checkDirectoryWritable(dir string) error {
	// Create a temporary file to test write permissions
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	// Clean up
	f.Close()
	os.Remove(testFile)

	return nil
}
