// Package tabular reads the holdings and trades tables and sniffs their schema.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"fundrag/internal/domain"
)

// ErrEmptyTable is returned for a CSV source without a header row.
var ErrEmptyTable = errors.New("table has no header row")

// Source names a table and the file it is read from.
type Source struct {
	Name string
	Path string
}

// ReadFile reads a whole CSV file into a table.
func ReadFile(name, path string) (domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Table{}, fmt.Errorf("open %s table %s: %w", name, path, err)
	}
	defer f.Close()
	t, err := Read(name, f)
	if err != nil {
		return domain.Table{}, fmt.Errorf("read %s table %s: %w", name, path, err)
	}
	return t, nil
}

// Read parses CSV data with a header row. Every row must have as many
// cells as the header; ragged input is treated as malformed.
func Read(name string, r io.Reader) (domain.Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, ErrEmptyTable
	}
	if err != nil {
		return domain.Table{}, err
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return domain.Table{}, err
	}
	return domain.Table{Name: name, Columns: columns, Rows: rows}, nil
}

// ReadAll reads every source in order and fails on the first error.
func ReadAll(sources []Source) ([]domain.Table, error) {
	tables := make([]domain.Table, 0, len(sources))
	for _, s := range sources {
		t, err := ReadFile(s.Name, s.Path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}
