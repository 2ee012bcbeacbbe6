// Package embedding holds the embedding function contract shared by build and query.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"fundrag/internal/domain"
)

// Embedder converts free text into a numeric vector representation.
type Embedder = domain.Embedder

// ErrEmptyEmbedding is returned when a backend produces no vector.
var ErrEmptyEmbedding = errors.New("empty embedding")

// EmbedAll embeds texts in order, reporting progress after each one.
func EmbedAll(ctx context.Context, e Embedder, texts []string, progress func(done int)) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed document %d: %w", i, err)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("embed document %d: %w", i, ErrEmptyEmbedding)
		}
		vectors[i] = v
		if progress != nil {
			progress(i + 1)
		}
	}
	return vectors, nil
}
