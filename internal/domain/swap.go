package domain

import "fmt"

// tempLabelBase is the first candidate for the swap placeholder column name.
const tempLabelBase = "__temp_name_for_swap__"

// RenamePair names two columns whose names should be exchanged.
type RenamePair struct {
	From string
	To   string
}

func (p RenamePair) String() string {
	return p.From + ":" + p.To
}

// TempLabel returns a column name that collides with none of existing. It
// starts from a fixed base and appends underscores until the name is free.
func TempLabel(existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		taken[name] = struct{}{}
	}
	label := tempLabelBase
	for {
		if _, ok := taken[label]; !ok {
			return label
		}
		label += "_"
	}
}

// SwapColumns exchanges the names of columns a and b so that the values that
// were under a are now under b and vice versa. Column positions are kept.
//
// a must exist. If b does not exist the call is a plain rename of a to b.
func (t *Table) SwapColumns(a, b string) error {
	if !t.Has(a) {
		return fmt.Errorf("swap %q with %q: %w", a, b, columnNotFound(a))
	}
	if a == b {
		return nil
	}
	if !t.Has(b) {
		return t.Rename(a, b)
	}

	tmp := TempLabel(t.names)
	steps := []RenamePair{{From: a, To: tmp}, {From: b, To: a}, {From: tmp, To: b}}
	for _, s := range steps {
		if err := t.Rename(s.From, s.To); err != nil {
			return fmt.Errorf("swap %q with %q: %w", a, b, err)
		}
	}
	return nil
}
