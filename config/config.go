// Package config loads the policybot configuration from YAML and builds the
// runtime components it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores/atlas"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
	DefaultK            = 4
	DefaultMaxTurns     = 10
	DefaultBatchSize    = 32
	DefaultAddress      = ":8080"
	DefaultDebounce     = 2 * time.Second
)

// Provider names accepted in the embedding and generation sections.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderFastAPI   = "fastapi"
)

// Backend names accepted in the retrieval section.
const (
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
	BackendAtlas    = "atlas"
	BackendSQLite   = "sqlite"
)

var (
	embeddingProviders  = []string{ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderFastAPI}
	generationProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderGemini}
	vectorBackends      = []string{BackendMemory, BackendQdrant, BackendPGVector, BackendAtlas}
	keywordBackends     = []string{BackendSQLite, BackendAtlas}
)

type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Memory     MemoryConfig     `yaml:"memory"`
	Atlas      AtlasConfig      `yaml:"atlas"`
	Server     ServerConfig     `yaml:"server"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DocumentsConfig struct {
	Path        string `yaml:"path"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// ProviderConfig is shared by the embedding and generation sections. The
// credential is read from the environment variable named by APIKeyEnv.
type ProviderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the credential. A named but unset variable is a config error.
func (p ProviderConfig) APIKey() (string, error) {
	if p.APIKeyEnv == "" {
		return "", nil
	}
	key := strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", schema.ErrConfig, p.APIKeyEnv)
	}
	return key, nil
}

type EmbeddingConfig struct {
	ProviderConfig    `yaml:",inline"`
	BatchSize         int     `yaml:"batch_size"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	Dimension         int     `yaml:"dimension"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Task              string  `yaml:"task"`
}

type GenerationConfig struct {
	ProviderConfig `yaml:",inline"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
}

type RetrievalConfig struct {
	K       int           `yaml:"k"`
	Filter  *FilterConfig `yaml:"filter"`
	Vector  VectorConfig  `yaml:"vector"`
	Keyword KeywordConfig `yaml:"keyword"`
}

type FilterConfig struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

type VectorConfig struct {
	Enabled        *bool          `yaml:"enabled"`
	Backend        string         `yaml:"backend"`
	ScoreThreshold *float32       `yaml:"score_threshold"`
	Qdrant         QdrantConfig   `yaml:"qdrant"`
	PGVector       PGVectorConfig `yaml:"pgvector"`
}

// IsEnabled defaults to true when the flag is absent.
func (v VectorConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

type QdrantConfig struct {
	URL          string `yaml:"url"`
	Collection   string `yaml:"collection"`
	APIKeyEnv    string `yaml:"api_key_env"`
	BatchSize    int    `yaml:"batch_size"`
	KeepPrevious bool   `yaml:"keep_previous"`
}

type PGVectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type KeywordConfig struct {
	Enabled bool         `yaml:"enabled"`
	Backend string       `yaml:"backend"`
	Fields  []string     `yaml:"fields"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

type MemoryConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// AtlasConfig holds the managed search index used by the atlas vector and
// keyword backends and by provision-index.
type AtlasConfig struct {
	URI     string                `yaml:"uri"`
	Timeout time.Duration         `yaml:"timeout"`
	Index   atlas.IndexDescriptor `yaml:"index"`
}

type ServerConfig struct {
	Address  string        `yaml:"address"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path after loading a .env file next to the working directory,
// if any. ${VAR} references in the file are expanded from the environment.
// A missing path yields the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %w", schema.ErrConfig, err)
	}

	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrConfig, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %w", schema.ErrConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Documents.Path == "" {
		c.Documents.Path = "./policies"
	}
	if c.Chunking.Size == 0 {
		c.Chunking.Size = DefaultChunkSize
		if c.Chunking.Overlap == 0 {
			c.Chunking.Overlap = DefaultChunkOverlap
		}
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderOllama
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = DefaultBatchSize
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = ProviderOllama
	}
	if c.Retrieval.K == 0 {
		c.Retrieval.K = DefaultK
	}
	if c.Retrieval.Vector.Backend == "" {
		c.Retrieval.Vector.Backend = BackendMemory
	}
	if c.Retrieval.Keyword.Backend == "" {
		c.Retrieval.Keyword.Backend = BackendSQLite
	}
	if c.Retrieval.Keyword.SQLite.Path == "" {
		c.Retrieval.Keyword.SQLite.Path = "./data/keyword.db"
	}
	if c.Retrieval.Vector.Qdrant.Collection == "" {
		c.Retrieval.Vector.Qdrant.Collection = "policies"
	}
	if c.Memory.MaxTurns == 0 {
		c.Memory.MaxTurns = DefaultMaxTurns
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.Debounce == 0 {
		c.Server.Debounce = DefaultDebounce
	}
}

// Validate reports every problem at once. All failures wrap schema.ErrConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{schema.ErrConfig}, args...)...))
	}

	if c.Chunking.Size <= 0 {
		add("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	if c.Retrieval.K < 1 {
		add("retrieval.k must be at least 1, got %d", c.Retrieval.K)
	}
	if c.Memory.MaxTurns < 1 {
		add("memory.max_turns must be at least 1, got %d", c.Memory.MaxTurns)
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size must be at least 1, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		add("embedding.requests_per_second must not be negative")
	}
	if !slices.Contains(embeddingProviders, c.Embedding.Provider) {
		add("unknown embedding provider %q", c.Embedding.Provider)
	}
	if !slices.Contains(generationProviders, c.Generation.Provider) {
		add("unknown generation provider %q", c.Generation.Provider)
	}

	vector, keyword := c.Retrieval.Vector, c.Retrieval.Keyword
	if !vector.IsEnabled() && !keyword.Enabled {
		add("at least one of retrieval.vector and retrieval.keyword must be enabled")
	}
	if !slices.Contains(vectorBackends, vector.Backend) {
		add("unknown vector backend %q", vector.Backend)
	}
	if !slices.Contains(keywordBackends, keyword.Backend) {
		add("unknown keyword backend %q", keyword.Backend)
	}
	if vector.IsEnabled() && vector.Backend == BackendPGVector && vector.PGVector.DSN == "" {
		add("retrieval.vector.pgvector.dsn is required")
	}
	if c.usesAtlas() {
		if c.Atlas.URI == "" {
			add("atlas.uri is required")
		}
		if err := c.Atlas.Index.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Retrieval.Filter != nil && c.Retrieval.Filter.Path == "" {
		add("retrieval.filter.path is required")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		add("logging.format must be text or json, got %q", f)
	}

	return errors.Join(errs...)
}

func (c *Config) usesAtlas() bool {
	r := c.Retrieval
	return (r.Vector.IsEnabled() && r.Vector.Backend == BackendAtlas) ||
		(r.Keyword.Enabled && r.Keyword.Backend == BackendAtlas)
}

// Filter returns the configured retrieval filter, or nil.
func (c *Config) Filter() *schema.Filter {
	if c.Retrieval.Filter == nil {
		return nil
	}
	return &schema.Filter{Path: c.Retrieval.Filter.Path, Value: c.Retrieval.Filter.Value}
}
