package domain

import (
	"fmt"
	"math"
)

// AbsColumn replaces every numeric cell of the named column with its absolute
// value. Nil cells stay nil. The column is left untouched if any cell is not
// numeric or is the minimum of its integer type.
func (t *Table) AbsColumn(name string) error {
	vals, ok := t.cols[name]
	if !ok {
		return columnNotFound(name)
	}

	out := make([]any, len(vals))
	for i, v := range vals {
		a, err := absValue(v)
		if err != nil {
			return fmt.Errorf("abs %q row %d: %w", name, i, err)
		}
		out[i] = a
	}
	t.cols[name] = out
	return nil
}

// RemapValues replaces each string cell of the named column with its entry in
// mapping. Cells with no entry, and non-string cells, are kept as they are.
func (t *Table) RemapValues(name string, mapping map[string]string) error {
	vals, ok := t.cols[name]
	if !ok {
		return columnNotFound(name)
	}
	for i, v := range vals {
		vals[i] = Lookup(mapping, v)
	}
	return nil
}

// Lookup returns mapping[v] when v is a string with an entry, and v otherwise.
func Lookup(mapping map[string]string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if mapped, ok := mapping[s]; ok {
		return mapped
	}
	return v
}

func absValue(v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int64:
		if n == math.MinInt64 {
			return nil, absOverflow(v)
		}
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case int:
		if n == math.MinInt {
			return nil, absOverflow(v)
		}
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case int32:
		if n == math.MinInt32 {
			return nil, absOverflow(v)
		}
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case float64:
		return math.Abs(n), nil
	case float32:
		return float32(math.Abs(float64(n))), nil
	default:
		return nil, fmt.Errorf("%w: %v (%T)", ErrNotNumeric, v, v)
	}
}

func absOverflow(v any) error {
	return fmt.Errorf("%w: %v (%T)", ErrAbsOverflow, v, v)
}
