// Package retrieval selects the documents that count as evidence for a question.
package retrieval

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fundrag/internal/domain"
)

// Mode selects what happens when no candidate passes the distance threshold.
type Mode string

const (
	// ModeHard discards everything beyond the threshold.
	ModeHard Mode = "hard"
	// ModeSoft keeps the full top-K when nothing passes the threshold.
	ModeSoft Mode = "soft"
)

const (
	DefaultTopK        = 15
	DefaultThreshold   = 2.0
	DefaultMinRelevant = 1
)

// Searcher is the part of the index the filter needs.
type Searcher interface {
	Search(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
}

// Options tune the filter.
type Options struct {
	TopK        int
	Threshold   float64
	MinRelevant int
	Mode        Mode
}

// DefaultOptions returns the hard filter with the stock constants.
func DefaultOptions() Options {
	return Options{TopK: DefaultTopK, Threshold: DefaultThreshold, MinRelevant: DefaultMinRelevant, Mode: ModeHard}
}

// Validate rejects option values the filter cannot honour.
func (o Options) Validate() error {
	if o.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", o.TopK)
	}
	if o.Threshold < 0 {
		return fmt.Errorf("similarity threshold must not be negative, got %g", o.Threshold)
	}
	if o.MinRelevant < 1 {
		return fmt.Errorf("min_relevant_docs must be at least 1, got %d", o.MinRelevant)
	}
	if o.Mode != ModeHard && o.Mode != ModeSoft {
		return fmt.Errorf("unknown filter mode %q", o.Mode)
	}
	return nil
}

// Result is the retained evidence. Sufficient is false when fewer than the
// minimum number of documents remain.
type Result struct {
	Candidates []domain.SearchResult
	Retained   []domain.SearchResult
	Sufficient bool
}

// Filter runs one search and applies the threshold policy.
type Filter struct {
	searcher Searcher
	opts     Options
	logger   zerolog.Logger
}

func NewFilter(searcher Searcher, opts Options, logger zerolog.Logger) *Filter {
	return &Filter{searcher: searcher, opts: opts, logger: logger}
}

// Retrieve searches for the top-K candidates and keeps those within the
// threshold, preserving rank order.
func (f *Filter) Retrieve(ctx context.Context, question string) (Result, error) {
	candidates, err := f.searcher.Search(ctx, question, f.opts.TopK)
	if err != nil {
		return Result{}, fmt.Errorf("search: %w", err)
	}
	res := Result{Candidates: candidates}
	for _, c := range candidates {
		if c.Distance <= f.opts.Threshold {
			res.Retained = append(res.Retained, c)
		}
	}
	if len(res.Retained) == 0 && f.opts.Mode == ModeSoft {
		res.Retained = candidates
	}
	res.Sufficient = len(res.Retained) > 0 && len(res.Retained) >= f.opts.MinRelevant

	ev := f.logger.Debug().
		Int("candidates", len(candidates)).
		Int("retained", len(res.Retained)).
		Bool("sufficient", res.Sufficient)
	if len(candidates) > 0 {
		ev = ev.Float64("best_distance", candidates[0].Distance)
	}
	ev.Msg("retrieval filtered")
	return res, nil
}
