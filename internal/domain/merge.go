package domain

import "fmt"

const (
	leftSuffix  = "_x"
	rightSuffix = "_y"
)

// LeftJoin merges right into left on the key column, keeping every left row.
// Left rows with no match get nil in the right-hand columns; left rows with
// several matches are repeated once per match. Non-key columns present on both
// sides are suffixed with "_x" (left) and "_y" (right).
func LeftJoin(left, right *Table, key string) (*Table, error) {
	if !left.Has(key) {
		return nil, fmt.Errorf("left join: left %w", columnNotFound(key))
	}
	if !right.Has(key) {
		return nil, fmt.Errorf("left join: right %w", columnNotFound(key))
	}

	var leftNames, rightNames, outNames []string
	for _, name := range left.names {
		leftNames = append(leftNames, name)
		if name != key && right.Has(name) {
			name += leftSuffix
		}
		outNames = append(outNames, name)
	}
	for _, name := range right.names {
		if name == key {
			continue
		}
		rightNames = append(rightNames, name)
		if left.Has(name) {
			name += rightSuffix
		}
		outNames = append(outNames, name)
	}

	out, err := NewTable(outNames...)
	if err != nil {
		return nil, fmt.Errorf("left join: %w", err)
	}

	index := make(map[string][]int, right.rows)
	for i, v := range right.cols[key] {
		if v == nil {
			continue
		}
		k := joinKey(v)
		index[k] = append(index[k], i)
	}

	for i := 0; i < left.rows; i++ {
		base := make([]any, 0, len(outNames))
		for _, name := range leftNames {
			base = append(base, left.cols[name][i])
		}

		var matches []int
		if v := left.cols[key][i]; v != nil {
			matches = index[joinKey(v)]
		}
		if len(matches) == 0 {
			row := append(base, make([]any, len(rightNames))...)
			if err := out.AppendRow(row...); err != nil {
				return nil, err
			}
			continue
		}
		for _, j := range matches {
			row := append([]any(nil), base...)
			for _, name := range rightNames {
				row = append(row, right.cols[name][j])
			}
			if err := out.AppendRow(row...); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// joinKey normalizes a key cell so that int64(7), float64(7) and "7" match.
func joinKey(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprint(int64(f))
	}
	return fmt.Sprint(v)
}
