package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"fundrag/internal/retrieval"
	"fundrag/internal/tabular"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// DataConfig points at the source tables.
type DataConfig struct {
	HoldingsFile string `yaml:"holdings_file"`
	TradesFile   string `yaml:"trades_file"`
}

// TableSchema names the group and PnL columns of one table explicitly.
type TableSchema struct {
	GroupColumn string `yaml:"group_column,omitempty"`
	PnLColumn   string `yaml:"pnl_column,omitempty"`
}

// SchemaConfig overrides column sniffing per table. Tables not listed use the heuristic.
type SchemaConfig struct {
	Tables map[string]TableSchema `yaml:"tables,omitempty"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension,omitempty"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// RedisConfig contains connection details for the Redis cache.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix,omitempty"`
}

// CacheConfig selects the embedding cache backend.
type CacheConfig struct {
	Type       string        `yaml:"type"` // none, memory or redis
	MaxEntries int           `yaml:"max_entries,omitempty"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
	Redis      *RedisConfig  `yaml:"redis,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path,omitempty"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig tunes the evidence filter.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinRelevantDocs     int     `yaml:"min_relevant_docs"`
	FilterMode          string  `yaml:"filter_mode"`
}

// LLMConfig selects and configures the generative model.
type LLMConfig struct {
	Type        string        `yaml:"type"` // ollama or openai
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Schema      SchemaConfig      `yaml:"schema,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	LLM         LLMConfig         `yaml:"llm"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist,
// defaults are used. Relative data and index paths in the file resolve
// against the file's directory; environment overrides are applied last.
func Load(path string) (*AppConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := resetForeignLLMDefaults(cfg, data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyConfigDefaults(cfg)
		resolvePaths(cfg, path)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadDefault tries ./fundrag.yaml first, then ~/.config/fundrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/fundrag/config.yaml and loads them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "fundrag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, DefaultConfig()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fundrag", "config.yaml"), nil
}

// DefaultConfig returns the stock configuration: local hashing embeddings,
// a SQLite index and Mistral served by a local Ollama.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Data:        DataConfig{HoldingsFile: "data/holdings.csv", TradesFile: "data/trades.csv"},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 512},
		Cache:       CacheConfig{Type: "none"},
		VectorStore: VectorStoreConfig{Type: "sqlite", Path: "index"},
		Retrieval: RetrievalConfig{
			TopK:                retrieval.DefaultTopK,
			SimilarityThreshold: retrieval.DefaultThreshold,
			MinRelevantDocs:     retrieval.DefaultMinRelevant,
			FilterMode:          string(retrieval.ModeHard),
		},
		LLM: LLMConfig{
			Type:    "ollama",
			Model:   "mistral",
			BaseURL: "http://localhost:11434",
			Timeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   90 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 90 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 512
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = defaultOpenAIBaseURL
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{URL: "http://localhost:6333", Collection: "fundrag"}
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "none"
	}
	if cfg.LLM.Type == "openai" {
		if cfg.LLM.APIKeyEnv == "" {
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = defaultOpenAIBaseURL
		}
	}
}

// resetForeignLLMDefaults drops the Ollama base URL and model from the
// defaults when the file selects another generator, so they are not
// inherited by a backend that cannot serve them.
func resetForeignLLMDefaults(cfg *AppConfig, data []byte) error {
	var peek struct {
		LLM struct {
			Type string `yaml:"type"`
		} `yaml:"llm"`
	}
	if err := yaml.Unmarshal(data, &peek); err != nil {
		return err
	}
	if peek.LLM.Type != "" && peek.LLM.Type != cfg.LLM.Type {
		cfg.LLM.BaseURL = ""
		cfg.LLM.Model = ""
	}
	return nil
}

func resolvePaths(cfg *AppConfig, configPath string) {
	cfg.Data.HoldingsFile = ResolveRelativePath(configPath, cfg.Data.HoldingsFile)
	cfg.Data.TradesFile = ResolveRelativePath(configPath, cfg.Data.TradesFile)
	cfg.VectorStore.Path = ResolveRelativePath(configPath, cfg.VectorStore.Path)
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("FUNDRAG_HOLDINGS_FILE"); v != "" {
		cfg.Data.HoldingsFile = v
	}
	if v := os.Getenv("FUNDRAG_TRADES_FILE"); v != "" {
		cfg.Data.TradesFile = v
	}
	if v := os.Getenv("FUNDRAG_INDEX_PATH"); v != "" {
		cfg.VectorStore.Path = v
	}
	if v := os.Getenv("FUNDRAG_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("FUNDRAG_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FUNDRAG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Type = "redis"
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisConfig{}
		}
		cfg.Cache.Redis.URL = v
	}
}

// Validate checks the configuration for errors.
func (c *AppConfig) Validate() error {
	if c.Data.HoldingsFile == "" || c.Data.TradesFile == "" {
		return errors.New("data.holdings_file and data.trades_file are required")
	}
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Dimension < 1 {
			return fmt.Errorf("invalid embedder dimension: %d", c.Embedder.Dimension)
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			return errors.New("openai embedder config missing")
		}
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.Cache.Type {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis == nil || c.Cache.Redis.URL == "" {
			return errors.New("redis cache requires cache.redis.url")
		}
	default:
		return fmt.Errorf("unknown cache: %s", c.Cache.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "sqlite":
		if c.VectorStore.Path == "" {
			return errors.New("sqlite vector store requires vector_store.path")
		}
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return errors.New("qdrant vector store requires vector_store.qdrant.url")
		}
	default:
		return fmt.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}
	if err := c.RetrievalOptions().Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	switch c.LLM.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown llm: %s", c.LLM.Type)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

// Sources lists the tables in build order.
func (c *AppConfig) Sources() []tabular.Source {
	return []tabular.Source{
		{Name: "holdings", Path: c.Data.HoldingsFile},
		{Name: "trades", Path: c.Data.TradesFile},
	}
}

// RetrievalOptions converts the retrieval section for the filter.
func (c *AppConfig) RetrievalOptions() retrieval.Options {
	return retrieval.Options{
		TopK:        c.Retrieval.TopK,
		Threshold:   c.Retrieval.SimilarityThreshold,
		MinRelevant: c.Retrieval.MinRelevantDocs,
		Mode:        retrieval.Mode(c.Retrieval.FilterMode),
	}
}

// SchemaSniffer returns the column sniffer for the configured schema.
func (c *AppConfig) SchemaSniffer() tabular.SchemaSniffer {
	if len(c.Schema.Tables) == 0 {
		return tabular.HeuristicSniffer{}
	}
	tables := make(map[string]tabular.ColumnNames, len(c.Schema.Tables))
	for name, s := range c.Schema.Tables {
		tables[name] = tabular.ColumnNames{Group: s.GroupColumn, PnL: s.PnLColumn}
	}
	return tabular.NewExplicitSniffer(tables)
}
