// Package config loads per-environment YAML configuration with ${VAR}
// expansion and a small set of environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is parsed.
const (
	EnvRebuild   = "REBUILD_KNOWLEDGE"
	EnvStoreAddr = "STORE_ADDR"
)

// Defaults shared by the services.
const (
	DefaultCollection = "university_knowledge"
	DefaultStoreAddr  = "localhost:6334"
)

// Config holds the knowledge pipeline configuration.
type Config struct {
	Env        string           `yaml:"-"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Store      StoreConfig      `yaml:"store"`
	Ingest     IngestConfig     `yaml:"ingest"`
	NATS       NATSConfig       `yaml:"nats"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	CORSOrigin      string `yaml:"cors_origin"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string      `yaml:"provider"` // ollama | openai
	Model      string      `yaml:"model"`
	BaseURL    string      `yaml:"base_url"`
	APIKey     string      `yaml:"api_key"`
	Dimensions int         `yaml:"dimensions"`
	Retry      RetryConfig `yaml:"retry"`
	// BatchDelayMs is the pause between items of a batch. Nil means 100.
	BatchDelayMs *int        `yaml:"batch_delay_ms"`
	Cache        CacheConfig `yaml:"cache"`
}

// RetryConfig is the per-call retry policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// CacheConfig enables the Redis embedding cache.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TTLSec    int    `yaml:"ttl_sec"`
	KeyPrefix string `yaml:"key_prefix"`
}

// GenerationConfig configures the text-generation collaborator used by the
// query translator.
type GenerationConfig struct {
	Provider  string        `yaml:"provider"` // openai | ollama | none
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	MaxTokens int           `yaml:"max_tokens"`
	Breaker   BreakerConfig `yaml:"breaker"`
	// RateLimit caps generation requests per second. Zero is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// BreakerConfig tunes the circuit breaker around generation calls.
type BreakerConfig struct {
	FailThreshold int `yaml:"fail_threshold"`
	OpenSec       int `yaml:"open_sec"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // qdrant | memory
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Dimensions int    `yaml:"dimensions"`
	Collection string `yaml:"collection"`
}

// IngestConfig controls corpus ingestion.
type IngestConfig struct {
	Dir          string `yaml:"dir"`
	ForceRebuild bool   `yaml:"force_rebuild"`
	// Topics additionally indexes one document per profile section.
	Topics bool `yaml:"topics"`
	// OnStartup makes the API ingest Dir before it starts serving.
	OnStartup bool `yaml:"on_startup"`
}

// NATSConfig enables the messaging surface. An empty URL disables it.
type NATSConfig struct {
	URL             string `yaml:"url"`
	AskSubject      string `yaml:"ask_subject"`
	RebuildSubject  string `yaml:"rebuild_subject"`
	IngestedSubject string `yaml:"ingested_subject"`
	Queue           string `yaml:"queue"`
}

// MetricsConfig holds the Prometheus listener. Zero serves /metrics on the
// API port only.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	cfg, err := LoadFile(findConfigPath(env))
	if err != nil {
		return Config{}, err
	}
	cfg.Env = env
	return cfg, nil
}

// LoadFile reads configuration from path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies environment
// overrides and defaults, then validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// LoadDotEnv loads .env from the working directory when it exists.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load()
}

// ApplyEnv applies REBUILD_KNOWLEDGE and STORE_ADDR on top of the file.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvRebuild); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvRebuild, v)
		}
		c.Ingest.ForceRebuild = b
	}
	if v := os.Getenv(EnvStoreAddr); v != "" {
		c.Store.Addr = v
	}
	return nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.CORSOrigin == "" {
		c.HTTP.CORSOrigin = "*"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 3
	}
	if c.Embedding.Retry.BaseDelayMs <= 0 {
		c.Embedding.Retry.BaseDelayMs = 1000
	}
	if c.Embedding.BatchDelayMs == nil {
		d := 100
		c.Embedding.BatchDelayMs = &d
	}
	if c.Embedding.Cache.TTLSec <= 0 {
		c.Embedding.Cache.TTLSec = 7 * 24 * 3600
	}
	if c.Embedding.Cache.KeyPrefix == "" {
		c.Embedding.Cache.KeyPrefix = "uniguide:emb:"
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gemini-2.0-flash-lite"
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 2048
	}
	if c.Generation.Breaker.FailThreshold <= 0 {
		c.Generation.Breaker.FailThreshold = 5
	}
	if c.Generation.Breaker.OpenSec <= 0 {
		c.Generation.Breaker.OpenSec = 30
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "qdrant"
	}
	if c.Store.Addr == "" {
		c.Store.Addr = DefaultStoreAddr
	}
	if c.Store.Dimensions <= 0 {
		c.Store.Dimensions = c.Embedding.Dimensions
	}
	if c.Store.Dimensions <= 0 {
		c.Store.Dimensions = 768
	}
	if c.Store.Collection == "" {
		c.Store.Collection = DefaultCollection
	}

	if c.Ingest.Dir == "" {
		c.Ingest.Dir = "data/universities"
	}

	if c.NATS.AskSubject == "" {
		c.NATS.AskSubject = "knowledge.ask"
	}
	if c.NATS.RebuildSubject == "" {
		c.NATS.RebuildSubject = "knowledge.rebuild"
	}
	if c.NATS.IngestedSubject == "" {
		c.NATS.IngestedSubject = "knowledge.ingested"
	}
	if c.NATS.Queue == "" {
		c.NATS.Queue = "knowledge-api"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			return errors.New("embedding.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be \"ollama\" or \"openai\", got %q", c.Embedding.Provider)
	}
	if *c.Embedding.BatchDelayMs < 0 {
		return fmt.Errorf("embedding.batch_delay_ms must not be negative, got %d", *c.Embedding.BatchDelayMs)
	}
	if c.Embedding.Cache.Enabled && c.Embedding.Cache.Addr == "" {
		return errors.New("embedding.cache.addr is required when the cache is enabled")
	}
	switch c.Generation.Provider {
	case "openai", "ollama", "none":
	default:
		return fmt.Errorf("generation.provider must be \"openai\", \"ollama\" or \"none\", got %q", c.Generation.Provider)
	}
	if c.Generation.RateLimit < 0 {
		return fmt.Errorf("generation.rate_limit must not be negative, got %g", c.Generation.RateLimit)
	}
	switch c.Store.Driver {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("store.driver must be \"qdrant\" or \"memory\", got %q", c.Store.Driver)
	}
	if c.Embedding.Dimensions > 0 && c.Embedding.Dimensions != c.Store.Dimensions {
		return fmt.Errorf("store.dimensions (%d) must match embedding.dimensions (%d)",
			c.Store.Dimensions, c.Embedding.Dimensions)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535, got %d", c.Metrics.Port)
	}
	return nil
}

// RetryBaseDelay returns the configured retry base delay.
func (e EmbeddingConfig) RetryBaseDelay() time.Duration {
	return time.Duration(e.Retry.BaseDelayMs) * time.Millisecond
}

// BatchDelay returns the pause between batch items.
func (e EmbeddingConfig) BatchDelay() time.Duration {
	if e.BatchDelayMs == nil {
		return 100 * time.Millisecond
	}
	return time.Duration(*e.BatchDelayMs) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests run from package directories.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b)))
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
