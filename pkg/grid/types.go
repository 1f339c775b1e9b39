package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Column is a spreadsheet column label such as "A", "G" or "AA".
type Column string

// Index returns the 1-based position of the column ("A" = 1, "AA" = 27).
func (c Column) Index() (int, error) {
	if c == "" {
		return 0, fmt.Errorf("%w: empty column", ErrInvalidRange)
	}

	n := 0
	for _, r := range strings.ToUpper(string(c)) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("%w: bad column %q", ErrInvalidRange, c)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}

// Validate checks that the column is a well-formed label.
func (c Column) Validate() error {
	_, err := c.Index()
	return err
}

// ColumnAt returns the label for a 1-based column index.
func ColumnAt(index int) Column {
	if index < 1 {
		return ""
	}

	var label []byte
	for index > 0 {
		index--
		label = append([]byte{byte('A' + index%26)}, label...)
		index /= 26
	}
	return Column(label)
}

// Range is a rectangular block of cells in A1 notation, inclusive on both ends.
type Range struct {
	FirstColumn Column
	LastColumn  Column
	FirstRow    int
	LastRow     int
}

// ColumnRange returns the range covering rows [firstRow, lastRow] of one column.
func ColumnRange(col Column, firstRow, lastRow int) Range {
	return Range{
		FirstColumn: col,
		LastColumn:  col,
		FirstRow:    firstRow,
		LastRow:     lastRow,
	}
}

// ParseRange parses an A1 range such as "D1:D100" or a single cell such as "G7".
func ParseRange(s string) (Range, error) {
	first, last, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		last = first
	}

	firstCol, firstRow, err := parseCell(first)
	if err != nil {
		return Range{}, err
	}
	lastCol, lastRow, err := parseCell(last)
	if err != nil {
		return Range{}, err
	}

	r := Range{
		FirstColumn: firstCol,
		LastColumn:  lastCol,
		FirstRow:    firstRow,
		LastRow:     lastRow,
	}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func parseCell(s string) (Column, int, error) {
	split := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if split <= 0 {
		return "", 0, fmt.Errorf("%w: bad cell reference %q", ErrInvalidRange, s)
	}

	row, err := strconv.Atoi(s[split:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad row in %q", ErrInvalidRange, s)
	}
	return Column(strings.ToUpper(s[:split])), row, nil
}

// String formats the range in A1 notation.
func (r Range) String() string {
	return fmt.Sprintf("%s%d:%s%d", r.FirstColumn, r.FirstRow, r.LastColumn, r.LastRow)
}

// Validate checks that the range is well-formed and not inverted.
func (r Range) Validate() error {
	first, err := r.FirstColumn.Index()
	if err != nil {
		return err
	}
	last, err := r.LastColumn.Index()
	if err != nil {
		return err
	}

	if first > last {
		return fmt.Errorf("%w: %s has columns out of order", ErrInvalidRange, r)
	}
	if r.FirstRow < 1 {
		return fmt.Errorf("%w: %s starts before row 1", ErrInvalidRange, r)
	}
	if r.FirstRow > r.LastRow {
		return fmt.Errorf("%w: %s has rows out of order", ErrInvalidRange, r)
	}
	return nil
}

// Rows returns the number of rows covered by the range.
func (r Range) Rows() int {
	return r.LastRow - r.FirstRow + 1
}

// Columns returns the number of columns covered by the range.
// Returns 0 if the range is malformed.
func (r Range) Columns() int {
	first, err := r.FirstColumn.Index()
	if err != nil {
		return 0
	}
	last, err := r.LastColumn.Index()
	if err != nil {
		return 0
	}
	return last - first + 1
}

// columnIndexes returns the 1-based indexes of the first and last columns.
func (r Range) columnIndexes() (int, int, error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	first, _ := r.FirstColumn.Index()
	last, _ := r.LastColumn.Index()
	return first, last, nil
}

// Matrix holds cell values row by row. Rows may be shorter than the range they
// came from; missing cells are empty.
type Matrix [][]string

// IsEmpty reports whether the matrix holds no non-empty cell.
func (m Matrix) IsEmpty() bool {
	for _, row := range m {
		for _, cell := range row {
			if cell != "" {
				return false
			}
		}
	}
	return true
}

// Cell returns the value at the 0-based row and column, or "" when absent.
func (m Matrix) Cell(row, col int) string {
	if row < 0 || row >= len(m) {
		return ""
	}
	if col < 0 || col >= len(m[row]) {
		return ""
	}
	return m[row][col]
}

// FirstColumn returns the first cell of every row.
func (m Matrix) FirstColumn() []string {
	values := make([]string, len(m))
	for i := range m {
		values[i] = m.Cell(i, 0)
	}
	return values
}

// ColumnMatrix builds a single-column matrix from values.
func ColumnMatrix(values []string) Matrix {
	m := make(Matrix, len(values))
	for i, v := range values {
		m[i] = []string{v}
	}
	return m
}

// Fill returns a rows x cols matrix with every cell set to value.
func Fill(rows, cols int, value string) Matrix {
	m := make(Matrix, rows)
	for i := range m {
		row := make([]string, cols)
		for j := range row {
			row[j] = value
		}
		m[i] = row
	}
	return m
}

// Trim drops empty trailing cells from every row and empty trailing rows from
// the matrix. A matrix without content trims to nil.
func Trim(m Matrix) Matrix {
	last := -1
	trimmed := make(Matrix, len(m))
	for i, row := range m {
		end := len(row)
		for end > 0 && row[end-1] == "" {
			end--
		}
		if end > 0 {
			trimmed[i] = row[:end]
			last = i
		} else {
			trimmed[i] = []string{}
		}
	}

	if last < 0 {
		return nil
	}
	return trimmed[:last+1]
}

// checkShape verifies that m fits inside r.
func checkShape(r Range, m Matrix) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if len(m) > r.Rows() {
		return fmt.Errorf("%w: %d rows do not fit in %s", ErrInvalidRange, len(m), r)
	}
	cols := r.Columns()
	for i, row := range m {
		if len(row) > cols {
			return fmt.Errorf("%w: row %d has %d cells, %s has %d columns", ErrInvalidRange, i, len(row), r, cols)
		}
	}
	return nil
}
