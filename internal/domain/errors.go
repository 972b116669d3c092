package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound is returned when an operation names a column the table
	// does not have.
	ErrColumnNotFound = errors.New("column not found")

	// ErrDuplicateColumn is returned when a table would end up with two columns
	// of the same name.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrRowWidth is returned when a row or column does not match the table shape.
	ErrRowWidth = errors.New("row width mismatch")

	// ErrNotNumeric is returned when a numeric correction meets a non-numeric cell.
	ErrNotNumeric = errors.New("value is not numeric")

	// ErrAbsOverflow is returned when an integer cell has no positive counterpart
	// in its own type.
	ErrAbsOverflow = errors.New("absolute value overflows")
)

func columnNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}
