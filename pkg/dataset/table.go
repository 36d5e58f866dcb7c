package dataset

import (
	"fmt"
	"strings"
)

// Table is an ordered set of rows of named string fields.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// New creates an empty table with the given header.
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// Columns returns a copy of the header in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Has reports whether the column exists.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Value returns the cell at row i of column, or "" if the column is absent.
func (t *Table) Value(i int, column string) string {
	c, ok := t.index[column]
	if !ok {
		return ""
	}
	return t.rows[i][c]
}

// Set writes a cell. The column must exist.
func (t *Table) Set(i int, column, value string) {
	c, ok := t.index[column]
	if !ok {
		panic(fmt.Sprintf("dataset: unknown column %q", column))
	}
	t.rows[i][c] = value
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Append adds a row. The number of values must match the header.
func (t *Table) Append(values ...string) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d fields, header has %d", len(values), len(t.columns))
	}
	row := make([]string, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// AppendRecord adds a row from a column->value map; missing columns are blank
// and unknown keys are ignored.
func (t *Table) AppendRecord(rec map[string]string) {
	row := make([]string, len(t.columns))
	for name, v := range rec {
		if c, ok := t.index[name]; ok {
			row[c] = v
		}
	}
	t.rows = append(t.rows, row)
}

// AddColumn appends a blank column. It is a no-op when the column exists.
func (t *Table) AddColumn(name string) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], "")
	}
}

// RenameColumn renames from to to when from exists and to does not.
func (t *Table) RenameColumn(from, to string) {
	c, ok := t.index[from]
	if !ok || t.Has(to) {
		return
	}
	delete(t.index, from)
	t.index[to] = c
	t.columns[c] = to
}

// TrimColumnNames strips surrounding whitespace and a byte-order mark from
// every header name.
func (t *Table) TrimColumnNames() {
	t.index = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		name := strings.TrimSpace(strings.TrimPrefix(c, bom))
		t.columns[i] = name
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
}

// Filter returns a new table holding the rows for which keep is true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := New(t.columns...)
	for i, row := range t.rows {
		if keep(i) {
			out.rows = append(out.rows, append([]string(nil), row...))
		}
	}
	return out
}

// Project returns the table with exactly the given columns in the given order.
func (t *Table) Project(columns []string) (*Table, error) {
	if missing := t.Missing(columns...); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	out := New(columns...)
	for _, row := range t.rows {
		projected := make([]string, len(columns))
		for j, c := range columns {
			projected[j] = row[t.index[c]]
		}
		out.rows = append(out.rows, projected)
	}
	return out, nil
}

// Concat appends the rows of other, matched by column name, onto a copy of t.
func (t *Table) Concat(other *Table) (*Table, error) {
	tail, err := other.Project(t.columns)
	if err != nil {
		return nil, err
	}
	out := t.Filter(func(int) bool { return true })
	out.rows = append(out.rows, tail.rows...)
	return out, nil
}

// IsBlankRow reports whether every cell of row i is empty or whitespace.
func (t *Table) IsBlankRow(i int) bool {
	for _, v := range t.rows[i] {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Missing returns the columns that are not present, in argument order.
func (t *Table) Missing(columns ...string) []string {
	var missing []string
	for _, c := range columns {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Require fails with a MissingColumnsError when any column is absent.
func (t *Table) Require(columns ...string) error {
	if missing := t.Missing(columns...); len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// MissingColumnsError reports header columns a dataset must carry.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing columns: " + strings.Join(e.Columns, ", ")
}
