package structured

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/domain"
	"fundrag/internal/tabular"
)

func TestParse(t *testing.T) {
	tests := []struct {
		question string
		want     Query
		ok       bool
	}{
		{"count holdings for Alpha", Query{"holdings", "Alpha"}, true},
		{"How many trades in Beta Capital?", Query{"trades", "Beta Capital"}, true},
		{"What is the TOTAL Holdings For Gamma-1 & Co", Query{"holdings", "Gamma-1 & Co"}, true},
		{"number of holdings for Alpha", Query{}, false},
		{"count holdings for alpha", Query{}, false},
		{"count positions for Alpha", Query{}, false},
		{"discount holdings for Alpha", Query{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got, ok := Parse(tt.question)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func fixtureTables() map[string]domain.Table {
	return map[string]domain.Table{
		"holdings": {
			Name:    "holdings",
			Columns: []string{"PortfolioName", "Security", "PL_YTD"},
			Rows: [][]string{
				{"Alpha", "AAPL", "10"},
				{"Alpha", "MSFT", "5"},
				{"alpha", "GOOG", "1"},
				{"Beta", "TSLA", "-3"},
			},
		},
		"trades": {
			Name:    "trades",
			Columns: []string{"Ticker", "Qty"},
			Rows:    [][]string{{"AAPL", "1"}},
		},
	}
}

func mapReader(tables map[string]domain.Table) TableReader {
	return func(name string) (domain.Table, error) {
		t, ok := tables[name]
		if !ok {
			return domain.Table{}, errors.New("no such table")
		}
		return t, nil
	}
}

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher(mapReader(fixtureTables()), nil, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name     string
		question string
		want     string
		ok       bool
	}{
		{"case-insensitive group match", "count holdings for Alpha", "3", true},
		{"single record", "How many holdings in Beta", "1", true},
		{"unknown entity is no match", "count holdings for Zeta", "", false},
		{"no group column", "count trades for Alpha", "", false},
		{"lowercase entity falls through", "count holdings for alpha", "", false},
		{"no pattern", "What is the PnL of Alpha?", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(ctx, tt.question)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_ReadsTablesPerCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holdings.csv")
	require.NoError(t, os.WriteFile(path, []byte("fund,security\nAlpha,AAPL\n"), 0o644))

	m := NewMatcher(FileTables([]tabular.Source{{Name: "holdings", Path: path}}), nil, zerolog.Nop())
	got, ok := m.Match(context.Background(), "count holdings for Alpha")
	require.True(t, ok)
	assert.Equal(t, "1", got)

	require.NoError(t, os.WriteFile(path, []byte("fund,security\nAlpha,AAPL\nAlpha,MSFT\n"), 0o644))
	got, ok = m.Match(context.Background(), "count holdings for Alpha")
	require.True(t, ok)
	assert.Equal(t, "2", got)

	_, ok = m.Match(context.Background(), "count trades for Alpha")
	assert.False(t, ok)
}
