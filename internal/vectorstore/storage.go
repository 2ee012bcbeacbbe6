// Package vectorstore defines how built indexes are persisted and searched.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"fundrag/internal/domain"
)

var (
	// ErrNoIndex is returned by Load when no build has been persisted yet.
	ErrNoIndex = errors.New("no index has been built")
	// ErrDimensionMismatch is returned when vectors of one build disagree in length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Storage persists one index build at a time and supports similarity search.
//
// Replace swaps the whole index in one step: either the new build becomes
// visible or the previous one stays authoritative. Search returns the k
// nearest entries by ascending squared Euclidean distance, ties in insertion
// order.
type Storage interface {
	Replace(ctx context.Context, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error
	Load(ctx context.Context) (domain.Manifest, error)
	Search(ctx context.Context, vector []float64, k int) ([]domain.SearchResult, error)
	Close() error
}

// Validate checks that a build is internally consistent.
func Validate(docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d != %d", len(docs), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != manifest.Dimension {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), manifest.Dimension, ErrDimensionMismatch)
		}
	}
	return nil
}
