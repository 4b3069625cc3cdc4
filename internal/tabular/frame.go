// Package tabular provides the small columnar table the stage
// implementations operate on: named columns, string cells, numeric
// parsing, and deterministic seeded splits.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// Frame is an in-memory table with named columns and row-major cells.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// ReadCSV decodes a CSV document with a header row into a frame.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("csv document is empty")
	}
	header := records[0]
	if len(header) == 0 {
		return nil, errors.New("csv header is empty")
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}
	return &Frame{Columns: columns, Rows: records[1:]}, nil
}

// NumRows returns the row count.
func (f *Frame) NumRows() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex returns the index of the named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	if f == nil {
		return -1
	}
	for i, col := range f.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns the raw string values of the named column.
func (f *Frame) Column(name string) ([]string, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	values := make([]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		if idx >= len(row) {
			values = append(values, "")
			continue
		}
		values = append(values, row[idx])
	}
	return values, nil
}

// NumericColumn parses the named column as float64 values. Cells that do
// not parse produce an error; callers decide how to treat missing data.
func (f *Frame) NumericColumn(name string) ([]float64, error) {
	raw, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(raw))
	for i, cell := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// IsNumericColumn reports whether every non-empty cell of the column
// parses as a number.
func (f *Frame) IsNumericColumn(name string) bool {
	raw, err := f.Column(name)
	if err != nil {
		return false
	}
	for _, cell := range raw {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
	}
	return true
}

// UniqueCount returns the number of distinct values in the column.
func (f *Frame) UniqueCount(name string) (int, error) {
	raw, err := f.Column(name)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(raw))
	for _, cell := range raw {
		seen[strings.TrimSpace(cell)] = struct{}{}
	}
	return len(seen), nil
}

// Clone deep-copies the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Rows:    make([][]string, 0, len(f.Rows)),
	}
	for _, row := range f.Rows {
		out.Rows = append(out.Rows, append([]string(nil), row...))
	}
	return out
}

// Split shuffles the rows with the given generator and partitions them
// into train and test frames. The shuffle consumes the generator in a
// fixed order, so a fixed seed always yields the same split.
func (f *Frame) Split(rng *rand.Rand, testFraction float64) (train, test *Frame) {
	if testFraction < 0 {
		testFraction = 0
	}
	if testFraction > 1 {
		testFraction = 1
	}
	shuffled := f.Clone()
	rng.Shuffle(len(shuffled.Rows), func(i, j int) {
		shuffled.Rows[i], shuffled.Rows[j] = shuffled.Rows[j], shuffled.Rows[i]
	})
	testSize := int(float64(len(shuffled.Rows)) * testFraction)
	if testSize < 1 && len(shuffled.Rows) > 1 && testFraction > 0 {
		testSize = 1
	}
	split := len(shuffled.Rows) - testSize
	train = &Frame{Columns: append([]string(nil), shuffled.Columns...), Rows: shuffled.Rows[:split]}
	test = &Frame{Columns: append([]string(nil), shuffled.Columns...), Rows: shuffled.Rows[split:]}
	return train, test
}
