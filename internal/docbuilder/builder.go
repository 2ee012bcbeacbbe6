// Package docbuilder turns tabular records into flat text documents for indexing.
package docbuilder

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"fundrag/internal/domain"
	"fundrag/internal/tabular"
)

const fieldSeparator = " | "

// Builder produces row documents and per-group summaries.
type Builder struct {
	sniffer tabular.SchemaSniffer
}

func NewBuilder(sniffer tabular.SchemaSniffer) *Builder {
	if sniffer == nil {
		sniffer = tabular.HeuristicSniffer{}
	}
	return &Builder{sniffer: sniffer}
}

// Build emits every row document of every table first, in table order,
// followed by the group summaries of each table in the same order.
func (b *Builder) Build(tables []domain.Table) []domain.Document {
	var docs []domain.Document
	for _, t := range tables {
		docs = append(docs, b.RowDocuments(t)...)
	}
	for _, t := range tables {
		docs = append(docs, b.GroupDocuments(t)...)
	}
	return docs
}

// RowDocuments renders each record as "column: value" pairs in column order.
func (b *Builder) RowDocuments(t domain.Table) []domain.Document {
	docs := make([]domain.Document, 0, len(t.Rows))
	for i, row := range t.Rows {
		parts := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			parts[j] = col + ": " + tabular.Cell(row, j)
		}
		docs = append(docs, domain.Document{
			ID:    t.Name + ":row:" + strconv.Itoa(i),
			Text:  strings.Join(parts, fieldSeparator),
			Kind:  domain.KindRow,
			Table: t.Name,
		})
	}
	return docs
}

// Aggregate holds the derived figures for one group of records.
type Aggregate struct {
	GroupKey string
	Count    int
	HasPnL   bool
	Sum      float64
	Mean     float64 // NaN when the group has no numeric PnL value
}

// Aggregates groups a table by its fund/portfolio column. Groups are returned
// in ascending key order; empty group values are skipped.
func (b *Builder) Aggregates(t domain.Table) []Aggregate {
	groupCol := b.sniffer.GroupColumn(t)
	if groupCol < 0 {
		return nil
	}
	pnlCol := b.sniffer.PnLColumn(t)

	type acc struct {
		count   int
		sum     float64
		numeric int
	}
	groups := make(map[string]*acc)
	for _, row := range t.Rows {
		key := tabular.Cell(row, groupCol)
		if strings.TrimSpace(key) == "" {
			continue
		}
		a, ok := groups[key]
		if !ok {
			a = &acc{}
			groups[key] = a
		}
		a.count++
		if pnlCol >= 0 {
			if v, ok := parseNumber(tabular.Cell(row, pnlCol)); ok {
				a.sum += v
				a.numeric++
			}
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Aggregate, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		agg := Aggregate{GroupKey: k, Count: a.count, HasPnL: pnlCol >= 0}
		if agg.HasPnL {
			agg.Sum = a.sum
			agg.Mean = math.NaN()
			if a.numeric > 0 {
				agg.Mean = a.sum / float64(a.numeric)
			}
		}
		out = append(out, agg)
	}
	return out
}

// GroupDocuments serializes the aggregates of a table into summary documents.
func (b *Builder) GroupDocuments(t domain.Table) []domain.Document {
	aggs := b.Aggregates(t)
	docs := make([]domain.Document, 0, len(aggs))
	source := strings.ToUpper(t.Name)
	for _, a := range aggs {
		parts := []string{
			"SOURCE: " + source,
			"FUND: " + a.GroupKey,
			"COUNT: " + strconv.Itoa(a.Count),
		}
		if a.HasPnL {
			parts = append(parts,
				"PL_YTD_SUM: "+formatFixed(a.Sum),
				"PL_YTD_MEAN: "+formatFixed(a.Mean),
			)
		}
		docs = append(docs, domain.Document{
			ID:    t.Name + ":group:" + a.GroupKey,
			Text:  strings.Join(parts, fieldSeparator),
			Kind:  domain.KindGroupSummary,
			Table: t.Name,
		})
	}
	return docs
}

// parseNumber coerces a cell to a float; anything unparsable is missing.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatFixed(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.2f", v)
}
