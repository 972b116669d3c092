package sqldb

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

// scanTable drains rows into a table. Byte slices become strings; every other
// driver value is stored as returned. Repeated result column names, as a
// SELECT * over a join yields, are suffixed .1, .2 and so on.
func scanTable(rows *sql.Rows) (*domain.Table, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	tbl, err := domain.NewTable(dedupeNames(names)...)
	if err != nil {
		return nil, err
	}

	cells := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range cells {
		ptrs[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", tbl.Len(), err)
		}
		row := make([]any, len(cells))
		for i, v := range cells {
			row[i] = normalize(v)
		}
		if err := tbl.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tbl, nil
}

// dedupeNames keeps the first occurrence of each name and renames later ones
// to name.N, skipping any N whose result is already taken.
func dedupeNames(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		count, dup := seen[n]
		if !dup {
			seen[n] = 0
			out[i] = n
			continue
		}
		name := n
		for {
			count++
			name = n + "." + strconv.Itoa(count)
			if !taken[name] {
				break
			}
		}
		seen[n] = count
		taken[name] = true
		out[i] = name
	}
	return out
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
