package domain

import "fmt"

// Column is a named slice of cells.
type Column struct {
	Name   string
	Values []any
}

// Table is an in-memory, column-oriented table with unique column names.
// The zero value is an empty table with no columns.
type Table struct {
	names []string
	cols  map[string][]any
	rows  int
}

// NewTable creates an empty table with the given column names.
func NewTable(names ...string) (*Table, error) {
	t := &Table{cols: make(map[string][]any, len(names))}
	for _, name := range names {
		if _, ok := t.cols[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		t.names = append(t.names, name)
		t.cols[name] = nil
	}
	return t, nil
}

// FromColumns builds a table from whole columns. All columns must have the
// same length.
func FromColumns(columns ...Column) (*Table, error) {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	t, err := NewTable(names...)
	if err != nil {
		return nil, err
	}
	for i, c := range columns {
		if i > 0 && len(c.Values) != t.rows {
			return nil, fmt.Errorf("%w: column %q has %d values, want %d", ErrRowWidth, c.Name, len(c.Values), t.rows)
		}
		t.rows = len(c.Values)
		t.cols[c.Name] = append([]any(nil), c.Values...)
	}
	return t, nil
}

// AppendRow adds one row. The number of values must match the column count.
func (t *Table) AppendRow(values ...any) error {
	if len(values) != len(t.names) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrRowWidth, len(values), len(t.names))
	}
	for i, name := range t.names {
		t.cols[name] = append(t.cols[name], values[i])
	}
	t.rows++
	return nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.names) }

// Has reports whether the table has a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Values returns a copy of the named column's cells.
func (t *Table) Values(name string) ([]any, error) {
	vals, ok := t.cols[name]
	if !ok {
		return nil, columnNotFound(name)
	}
	return append([]any(nil), vals...), nil
}

// Row returns a copy of row i in column order.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.names))
	for j, name := range t.names {
		row[j] = t.cols[name][i]
	}
	return row
}

// Record returns row i keyed by column name.
func (t *Table) Record(i int) map[string]any {
	rec := make(map[string]any, len(t.names))
	for _, name := range t.names {
		rec[name] = t.cols[name][i]
	}
	return rec
}

// SetValues replaces the cells of an existing column.
func (t *Table) SetValues(name string, values []any) error {
	if !t.Has(name) {
		return columnNotFound(name)
	}
	if len(values) != t.rows {
		return fmt.Errorf("%w: column %q got %d values, want %d", ErrRowWidth, name, len(values), t.rows)
	}
	t.cols[name] = values
	return nil
}

// Rename changes a column's name in place, keeping its position and values.
func (t *Table) Rename(from, to string) error {
	if from == to {
		if !t.Has(from) {
			return columnNotFound(from)
		}
		return nil
	}
	vals, ok := t.cols[from]
	if !ok {
		return columnNotFound(from)
	}
	if t.Has(to) {
		return fmt.Errorf("rename %q: %w: %q", from, ErrDuplicateColumn, to)
	}
	for i, name := range t.names {
		if name == from {
			t.names[i] = to
			break
		}
	}
	delete(t.cols, from)
	t.cols[to] = vals
	return nil
}

// Clone returns a deep copy of the table's structure. Cell values are copied
// by assignment.
func (t *Table) Clone() *Table {
	c := &Table{
		names: append([]string(nil), t.names...),
		cols:  make(map[string][]any, len(t.cols)),
		rows:  t.rows,
	}
	for name, vals := range t.cols {
		c.cols[name] = append([]any(nil), vals...)
	}
	return c
}
