package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fundrag/internal/domain"
	"fundrag/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force squared L2 distance.
type Storage struct {
	mu       sync.RWMutex
	loaded   bool
	manifest domain.Manifest
	vectors  [][]float64
	docs     []domain.Document
}

func NewStorage() *Storage { return &Storage{} }

// Replace installs a new build. Inputs are copied so callers may reuse them.
func (s *Storage) Replace(_ context.Context, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	if err := vectorstore.Validate(docs, vectors, manifest); err != nil {
		return err
	}
	d := append([]domain.Document(nil), docs...)
	v := make([][]float64, len(vectors))
	for i := range vectors {
		v[i] = append([]float64(nil), vectors[i]...)
	}
	manifest.Count = len(d)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs, s.vectors, s.manifest, s.loaded = d, v, manifest, true
	return nil
}

// Load reports the manifest of the current build.
func (s *Storage) Load(_ context.Context) (domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return domain.Manifest{}, vectorstore.ErrNoIndex
	}
	return s.manifest, nil
}

// Search returns up to k entries nearest to vector. An empty store yields no results.
func (s *Storage) Search(_ context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != s.manifest.Dimension {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(vector), s.manifest.Dimension, vectorstore.ErrDimensionMismatch)
	}
	dists := make([]float64, len(s.vectors))
	for i := range s.vectors {
		dists[i] = SquaredL2(s.vectors[i], vector)
	}
	idxs := make([]int, len(dists))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return dists[idxs[a]] < dists[idxs[b]] })
	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, 0, k)
	for _, j := range idxs[:k] {
		results = append(results, domain.SearchResult{Document: s.docs[j], Distance: dists[j]})
	}
	return results, nil
}

func (s *Storage) Close() error { return nil }

// SquaredL2 is the squared Euclidean distance between equal-length vectors.
func SquaredL2(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
