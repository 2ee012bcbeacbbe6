// Package cached memoizes embeddings by model and content hash.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fundrag/internal/cache"
	"fundrag/internal/domain"
)

// Embedder wraps another embedder with a cache lookup. Cache failures are
// logged and never fail the embedding call.
type Embedder struct {
	next   domain.Embedder
	store  cache.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New returns a caching decorator around next.
func New(next domain.Embedder, store cache.Client, ttl time.Duration, logger zerolog.Logger) *Embedder {
	return &Embedder{next: next, store: store, ttl: ttl, logger: logger}
}

// Model is the wrapped model; caching never changes the vectors.
func (e *Embedder) Model() string { return e.next.Model() }

func (e *Embedder) Dimension() int { return e.next.Dimension() }

// Embed returns the cached vector for text or computes and stores it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := Key(e.next.Model(), text)

	if raw, err := e.store.Get(ctx, key); err == nil {
		var vec []float64
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		e.logger.Warn().Str("key", key).Msg("discarding undecodable cached embedding")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		e.logger.Warn().Err(err).Msg("embedding cache lookup failed")
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(vec)
	if err == nil {
		err = e.store.Set(ctx, key, raw, e.ttl)
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("embedding cache store failed")
	}
	return vec, nil
}

// Key builds the cache key for one text under one embedding model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.Key("emb", model, hex.EncodeToString(sum[:]))
}
