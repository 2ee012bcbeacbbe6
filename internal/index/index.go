// Package index embeds documents and answers nearest-neighbour queries over
// a persisted vectorstore build.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundrag/internal/domain"
	"fundrag/internal/embedding"
	"fundrag/internal/vectorstore"
)

var (
	ErrInvalidK          = errors.New("k must be at least 1")
	ErrEmbeddingMismatch = errors.New("index was built with a different embedding model")
)

// Index couples an embedder with the storage holding vectors it produced.
type Index struct {
	embedder embedding.Embedder
	storage  vectorstore.Storage
	logger   zerolog.Logger
	now      func() time.Time

	loaded atomic.Bool
}

func New(embedder embedding.Embedder, storage vectorstore.Storage, logger zerolog.Logger) *Index {
	return &Index{embedder: embedder, storage: storage, logger: logger, now: time.Now}
}

// Build embeds every document and replaces the persisted index wholesale.
// progress, when set, is called after each embedded document.
func (i *Index) Build(ctx context.Context, docs []domain.Document, progress func(done int)) (domain.Manifest, error) {
	texts := make([]string, len(docs))
	for j, d := range docs {
		texts[j] = d.Text
	}
	vectors, err := embedding.EmbedAll(ctx, i.embedder, texts, progress)
	if err != nil {
		return domain.Manifest{}, err
	}

	dim := i.embedder.Dimension()
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	manifest := domain.Manifest{
		BuildID:        uuid.NewString(),
		EmbeddingModel: i.embedder.Model(),
		Dimension:      dim,
		Count:          len(docs),
		CreatedAt:      i.now().UTC(),
	}
	if err := i.storage.Replace(ctx, docs, vectors, manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("persist index: %w", err)
	}
	i.loaded.Store(true)
	i.logger.Info().
		Str("build_id", manifest.BuildID).
		Str("embedding_model", manifest.EmbeddingModel).
		Int("documents", manifest.Count).
		Int("dimension", manifest.Dimension).
		Msg("index built")
	return manifest, nil
}

// Load restores the persisted index and checks that it was built with the
// configured embedding model.
func (i *Index) Load(ctx context.Context) (domain.Manifest, error) {
	m, err := i.storage.Load(ctx)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("load index: %w", err)
	}
	if m.EmbeddingModel != i.embedder.Model() {
		return domain.Manifest{}, fmt.Errorf("%w: index has %q, configured %q",
			ErrEmbeddingMismatch, m.EmbeddingModel, i.embedder.Model())
	}
	i.loaded.Store(true)
	i.logger.Info().
		Str("build_id", m.BuildID).
		Int("documents", m.Count).
		Time("created_at", m.CreatedAt).
		Msg("index loaded")
	return m, nil
}

// Search returns the k nearest documents to text by ascending distance.
// An index that was never built or loaded yields no results.
func (i *Index) Search(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if !i.loaded.Load() {
		i.logger.Debug().Msg("search on unloaded index")
		return nil, nil
	}
	vec, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return i.storage.Search(ctx, vec, k)
}
