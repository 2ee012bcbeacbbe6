package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"fundrag/internal/answer"
	"fundrag/internal/cache"
	"fundrag/internal/config"
	"fundrag/internal/docbuilder"
	"fundrag/internal/domain"
	"fundrag/internal/embedding/cached"
	"fundrag/internal/embedding/hashing"
	"fundrag/internal/embedding/openai"
	"fundrag/internal/index"
	"fundrag/internal/llm/ollama"
	llmopenai "fundrag/internal/llm/openai"
	"fundrag/internal/observability"
	"fundrag/internal/retrieval"
	"fundrag/internal/service"
	"fundrag/internal/structured"
	"fundrag/internal/vectorstore"
	"fundrag/internal/vectorstore/memory"
	"fundrag/internal/vectorstore/qdrant"
	"fundrag/internal/vectorstore/sqlite"
)

// app owns every long-lived component of one process.
type app struct {
	cfg      *config.AppConfig
	logger   zerolog.Logger
	cache    cache.Client
	embedder domain.Embedder
	storage  vectorstore.Storage
	index    *index.Index
	registry *prometheus.Registry
	metrics  *observability.Metrics
}

// newApp assembles the embedding and index components. ephemeral forces the
// in-memory vector store regardless of configuration.
func newApp(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger, ephemeral bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	var err error
	if a.cache, err = newCache(ctx, cfg); err != nil {
		return nil, err
	}
	if a.embedder, err = newEmbedder(cfg); err != nil {
		a.close()
		return nil, err
	}
	if a.cache != nil {
		a.embedder = cached.New(a.embedder, a.cache, cfg.Cache.TTL, logger.With().Str("component", "embedding_cache").Logger())
	}
	storeType := cfg.VectorStore.Type
	if ephemeral {
		storeType = "memory"
	}
	if a.storage, err = newStorage(storeType, cfg, logger); err != nil {
		a.close()
		return nil, err
	}
	a.index = index.New(a.embedder, a.storage, logger.With().Str("component", "index").Logger())
	return a, nil
}

func (a *app) close() {
	if a.storage != nil {
		_ = a.storage.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

func (a *app) buildJob() *service.BuildJob {
	return service.NewBuildJob(a.cfg.Sources(), docbuilder.NewBuilder(a.cfg.SchemaSniffer()), a.index,
		a.logger.With().Str("component", "build").Logger())
}

// loadIndex restores the persisted index and records its size.
func (a *app) loadIndex(ctx context.Context) (domain.Manifest, error) {
	m, err := a.index.Load(ctx)
	if err != nil {
		return domain.Manifest{}, err
	}
	a.metrics.IndexedDocs.Set(float64(m.Count))
	return m, nil
}

func (a *app) ragService() (*service.RAGService, error) {
	gen, err := newGenerator(a.cfg)
	if err != nil {
		return nil, err
	}
	matcher := structured.NewMatcher(structured.FileTables(a.cfg.Sources()), a.cfg.SchemaSniffer(),
		a.logger.With().Str("component", "structured").Logger())
	filter := retrieval.NewFilter(a.index, a.cfg.RetrievalOptions(),
		a.logger.With().Str("component", "retrieval").Logger())
	synth := answer.NewSynthesizer(gen, a.cfg.LLM.Timeout,
		a.logger.With().Str("component", "answer").Logger())
	return service.NewRAGService(matcher, filter, synth, a.metrics,
		a.logger.With().Str("component", "orchestrator").Logger()), nil
}

func newCache(ctx context.Context, cfg *config.AppConfig) (cache.Client, error) {
	switch cfg.Cache.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
	case "redis":
		if cfg.Cache.Redis == nil {
			return nil, fmt.Errorf("redis cache config missing")
		}
		c, err := cache.NewRedisClient(ctx, cache.RedisConfig{URL: cfg.Cache.Redis.URL, Prefix: cfg.Cache.Redis.Prefix})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache: %s", cfg.Cache.Type)
	}
}

func newEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:  cfg.Embedder.OpenAI.APIKeyEnv,
			Model:      cfg.Embedder.OpenAI.Model,
			Timeout:    time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Embedder.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newStorage(storeType string, cfg *config.AppConfig, logger zerolog.Logger) (vectorstore.Storage, error) {
	logger = logger.With().Str("component", "vectorstore").Logger()
	switch storeType {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite", "":
		s, err := sqlite.NewStorage(cfg.VectorStore.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite vector store: %w", err)
		}
		return s, nil
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
			Timeout:    time.Duration(cfg.VectorStore.Qdrant.TimeoutSecs) * time.Second,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", storeType)
	}
}

func newGenerator(cfg *config.AppConfig) (domain.Generator, error) {
	switch cfg.LLM.Type {
	case "ollama", "":
		return ollama.NewClient(ollama.Config{
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}), nil
	case "openai":
		client, err := llmopenai.NewClient(llmopenai.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm: %s", cfg.LLM.Type)
	}
}
