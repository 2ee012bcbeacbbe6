package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/domain"
)

type stubSearcher struct {
	results []domain.SearchResult
	err     error
	gotK    int
}

func (s *stubSearcher) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	s.gotK = k
	if k < len(s.results) {
		return s.results[:k], s.err
	}
	return s.results, s.err
}

func hits(distances ...float64) []domain.SearchResult {
	out := make([]domain.SearchResult, len(distances))
	for i, d := range distances {
		out[i] = domain.SearchResult{Document: domain.Document{ID: string(rune('a' + i))}, Distance: d}
	}
	return out
}

func ids(rs []domain.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Document.ID
	}
	return out
}

func TestFilter_Retrieve(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		results    []domain.SearchResult
		retained   []string
		sufficient bool
	}{
		{"keeps within threshold in rank order", Options{TopK: 15, Threshold: 1.0, MinRelevant: 1, Mode: ModeHard}, hits(0.2, 0.9, 1.0, 1.5), []string{"a", "b", "c"}, true},
		{"all beyond threshold is insufficient", Options{TopK: 15, Threshold: 1.0, MinRelevant: 1, Mode: ModeHard}, hits(1.2, 3), nil, false},
		{"below minimum evidence", Options{TopK: 15, Threshold: 1.0, MinRelevant: 3, Mode: ModeHard}, hits(0.1, 0.2, 4), []string{"a", "b"}, false},
		{"empty index", Options{TopK: 15, Threshold: 2.0, MinRelevant: 1, Mode: ModeHard}, nil, nil, false},
		{"soft keeps top-k when nothing passes", Options{TopK: 2, Threshold: 0.5, MinRelevant: 1, Mode: ModeSoft}, hits(1, 2, 3), []string{"a", "b"}, true},
		{"soft with empty search", Options{TopK: 2, Threshold: 0.5, MinRelevant: 1, Mode: ModeSoft}, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSearcher{results: tt.results}
			f := NewFilter(s, tt.opts, zerolog.Nop())
			res, err := f.Retrieve(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, tt.opts.TopK, s.gotK)
			if tt.retained == nil {
				assert.Empty(t, res.Retained)
			} else {
				assert.Equal(t, tt.retained, ids(res.Retained))
			}
			assert.Equal(t, tt.sufficient, res.Sufficient)
		})
	}
}

func TestFilter_SearchError(t *testing.T) {
	boom := errors.New("index offline")
	f := NewFilter(&stubSearcher{err: boom}, DefaultOptions(), zerolog.Nop())
	_, err := f.Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.TopK = 0
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.Mode = "fuzzy"
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.MinRelevant = 0
	assert.Error(t, bad.Validate())
}
