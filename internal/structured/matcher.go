// Package structured answers exact count questions straight from the tables.
package structured

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"fundrag/internal/domain"
	"fundrag/internal/tabular"
)

// countPattern keeps keywords case-insensitive while the entity must start
// with an uppercase letter.
var countPattern = regexp.MustCompile(`\b(?i:count|number|how\s+many|total)\s+(?i:(holdings|trades))\s+(?i:in|for)\s+([A-Z][\w\s\-&]*)`)

// TableReader loads a table by name.
type TableReader func(name string) (domain.Table, error)

// FileTables reads tables from CSV files on every call.
func FileTables(sources []tabular.Source) TableReader {
	paths := make(map[string]string, len(sources))
	for _, s := range sources {
		paths[s.Name] = s.Path
	}
	return func(name string) (domain.Table, error) {
		return tabular.ReadFile(name, paths[name])
	}
}

// Query is a parsed count question.
type Query struct {
	Table  string
	Entity string
}

// Parse extracts the table and entity from a count question.
func Parse(question string) (Query, bool) {
	m := countPattern.FindStringSubmatch(question)
	if m == nil {
		return Query{}, false
	}
	entity := strings.TrimSpace(m[2])
	if entity == "" {
		return Query{}, false
	}
	return Query{Table: strings.ToLower(m[1]), Entity: entity}, true
}

// Matcher counts records of one group without involving the model.
type Matcher struct {
	read    TableReader
	sniffer tabular.SchemaSniffer
	logger  zerolog.Logger
}

func NewMatcher(read TableReader, sniffer tabular.SchemaSniffer, logger zerolog.Logger) *Matcher {
	if sniffer == nil {
		sniffer = tabular.HeuristicSniffer{}
	}
	return &Matcher{read: read, sniffer: sniffer, logger: logger}
}

// Match returns the decimal count for a recognized question. It reports no
// match, rather than zero, when the question does not parse, the table cannot
// be read or has no group column, or no record belongs to the entity.
func (m *Matcher) Match(_ context.Context, question string) (string, bool) {
	q, ok := Parse(question)
	if !ok {
		return "", false
	}
	t, err := m.read(q.Table)
	if err != nil {
		m.logger.Warn().Err(err).Str("table", q.Table).Msg("structured lookup skipped")
		return "", false
	}
	col := m.sniffer.GroupColumn(t)
	if col < 0 {
		m.logger.Debug().Str("table", q.Table).Msg("table has no group column")
		return "", false
	}
	count := 0
	for _, row := range t.Rows {
		if strings.EqualFold(strings.TrimSpace(tabular.Cell(row, col)), q.Entity) {
			count++
		}
	}
	if count == 0 {
		return "", false
	}
	m.logger.Debug().Str("table", q.Table).Str("entity", q.Entity).Int("count", count).Msg("structured match")
	return strconv.Itoa(count), true
}
