package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"persona-rag/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 4
	DefaultStoreDir     = "./vector_store"
)

type Config struct {
	Log          LogConfig      `yaml:"log"`
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Database     DatabaseConfig `yaml:"database"`
	Server       ServerConfig   `yaml:"server"`
	PersonasFile string         `yaml:"personas_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  *int   `yaml:"chunk_overlap"`
	TopK          *int   `yaml:"top_k"`
	Store         string `yaml:"store"` // chromem or postgres
	StoreDir      string `yaml:"store_dir"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	LazyInit      *bool  `yaml:"lazy_init"`
	Warmup        bool   `yaml:"warmup"`
}

// K returns the configured top-k, DefaultTopK when unset
func (r RAGConfig) K() int {
	if r.TopK == nil {
		return DefaultTopK
	}
	return *r.TopK
}

// Overlap returns the configured chunk overlap, DefaultChunkOverlap when
// unset. An explicit 0 disables overlap.
func (r RAGConfig) Overlap() int {
	if r.ChunkOverlap == nil {
		return DefaultChunkOverlap
	}
	return *r.ChunkOverlap
}

// Lazy reports whether pipelines build on first query; defaults to true
func (r RAGConfig) Lazy() bool {
	if r.LazyInit == nil {
		return true
	}
	return *r.LazyInit
}

type LLMConfig struct {
	Provider      string        `yaml:"provider"` // openai, ollama, googleai, hash
	BaseURL       string        `yaml:"base_url"`
	Key           string        `yaml:"key"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Breaker       bool          `yaml:"breaker"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // pgdriver or pq
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
	Dim      int    `yaml:"dimensions"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		data = nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.InferenceLLM.Key == "" {
		cfg.InferenceLLM.Key = v
	}
	if v := os.Getenv("EMBED_API_KEY"); v != "" {
		cfg.EmbedLLM.Key = v
	} else if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = cfg.InferenceLLM.Key
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RAG_ENCRYPTION_KEY"); v != "" {
		cfg.RAG.EncryptionKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	if cfg.RAG.Store == "" {
		cfg.RAG.Store = "chromem"
	}
	if cfg.RAG.StoreDir == "" {
		cfg.RAG.StoreDir = DefaultStoreDir
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "openai"
	}
	if cfg.EmbedLLM.Provider == "openai" && cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "text-embedding-3-small"
	}
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "openai"
	}
	if cfg.InferenceLLM.Provider == "openai" && cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = "gpt-4o-mini"
	}
	if cfg.InferenceLLM.Temperature == 0 {
		cfg.InferenceLLM.Temperature = 0.7
	}
	if cfg.InferenceLLM.Timeout == 0 {
		cfg.InferenceLLM.Timeout = 60 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Database.Dim == 0 {
		cfg.Database.Dim = 1536
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
}

// Validate checks the values that cannot be defaulted. Failures are
// configuration errors.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return models.NewError(models.KindConfiguration, "config.Validate", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if o := c.RAG.Overlap(); o < 0 || o >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", o)
	}
	if c.RAG.K() < 0 {
		return fmt.Errorf("rag.top_k must not be negative, got %d", c.RAG.K())
	}
	switch c.RAG.Store {
	case "chromem":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown rag.store %q", c.RAG.Store)
	}
	return nil
}
