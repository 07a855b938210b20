package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the diagflow service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CorpusConfig holds reference-corpus settings.
type CorpusConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// IndexConfig holds chunking and index artifact settings.
type IndexConfig struct {
	Dir          string `yaml:"dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// RetrievalConfig holds query-time search settings.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// GenerationConfig holds language-model provider settings.
type GenerationConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
}

// PipelineConfig holds workflow engine settings.
type PipelineConfig struct {
	StageTimeoutSec int  `yaml:"stage_timeout_sec"`
	SimulateAnswers bool `yaml:"simulate_answers"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLHours int      `yaml:"ttl_hours"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
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

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Diagnosis runs block on several generation calls; keep writes generous.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Corpus.Dir == "" {
		c.Corpus.Dir = "data/corpus"
	}
	if c.Index.Dir == "" {
		c.Index.Dir = "data/index"
	}
	if c.Index.ChunkSize <= 0 {
		c.Index.ChunkSize = 1500
	}
	if c.Index.ChunkOverlap < 0 {
		c.Index.ChunkOverlap = 0
	}
	if c.Index.ChunkOverlap == 0 {
		c.Index.ChunkOverlap = 200
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.MinScore == 0 {
		c.Retrieval.MinScore = 0.25
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 900
	}
	if c.Generation.MaxRetries <= 0 {
		c.Generation.MaxRetries = 2
	}
	if c.Pipeline.StageTimeoutSec <= 0 {
		c.Pipeline.StageTimeoutSec = 60
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = 24 * 7
	}
}

// Validate checks the configuration for correctness. Failures here surface
// at startup, before any diagnosis run begins.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap (%d) must be smaller than index.chunk_size (%d)",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [-1, 1], got %v", c.Retrieval.MinScore)
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache.enabled is true")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
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
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
