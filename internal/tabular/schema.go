package tabular

import (
	"strings"

	"fundrag/internal/domain"
)

// SchemaSniffer locates the columns the pipeline cares about.
// An index of -1 means the table has no such column.
type SchemaSniffer interface {
	GroupColumn(t domain.Table) int
	PnLColumn(t domain.Table) int
}

// HeuristicSniffer matches column names by substring.
type HeuristicSniffer struct{}

// GroupColumn returns the first column whose name mentions a fund or portfolio.
func (HeuristicSniffer) GroupColumn(t domain.Table) int {
	for i, c := range t.Columns {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "fund") || strings.Contains(lc, "portfolio") {
			return i
		}
	}
	return -1
}

// PnLColumn returns the first profit-and-loss year-to-date column.
func (HeuristicSniffer) PnLColumn(t domain.Table) int {
	for i, c := range t.Columns {
		if strings.Contains(strings.ToLower(c), "pl_ytd") {
			return i
		}
	}
	return -1
}

// ColumnNames configures explicit column names for one table.
type ColumnNames struct {
	Group string
	PnL   string
}

// ExplicitSniffer uses configured column names per table and falls back
// to the heuristic for tables or columns it was not told about.
type ExplicitSniffer struct {
	Tables   map[string]ColumnNames
	Fallback SchemaSniffer
}

// NewExplicitSniffer returns a sniffer with a heuristic fallback.
func NewExplicitSniffer(tables map[string]ColumnNames) *ExplicitSniffer {
	return &ExplicitSniffer{Tables: tables, Fallback: HeuristicSniffer{}}
}

func (s *ExplicitSniffer) GroupColumn(t domain.Table) int {
	if names, ok := s.Tables[t.Name]; ok && names.Group != "" {
		return columnIndex(t, names.Group)
	}
	return s.Fallback.GroupColumn(t)
}

func (s *ExplicitSniffer) PnLColumn(t domain.Table) int {
	if names, ok := s.Tables[t.Name]; ok && names.PnL != "" {
		return columnIndex(t, names.PnL)
	}
	return s.Fallback.PnLColumn(t)
}

func columnIndex(t domain.Table, name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Cell returns the value at row/column or "" when the row is short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
