package webcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

type kind int

const (
	kindInt kind = iota
	kindFloat
	kindString
)

// Parse reads a CSV document with a header row into a table. Each column gets
// the narrowest type that fits all of its non-empty cells: int64, then
// float64, then string. Empty cells become nil.
func Parse(r io.Reader) (*domain.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	columns := make([]domain.Column, len(header))
	for j, name := range header {
		raw := make([]string, len(records))
		for i, rec := range records {
			raw[i] = strings.TrimSpace(rec[j])
		}
		columns[j] = domain.Column{Name: strings.TrimSpace(name), Values: convert(raw)}
	}
	return domain.FromColumns(columns...)
}

func convert(raw []string) []any {
	k := infer(raw)
	out := make([]any, len(raw))
	for i, s := range raw {
		if s == "" {
			continue
		}
		switch k {
		case kindInt:
			out[i], _ = strconv.ParseInt(s, 10, 64)
		case kindFloat:
			out[i], _ = strconv.ParseFloat(s, 64)
		default:
			out[i] = s
		}
	}
	return out
}

func infer(raw []string) kind {
	k := kindInt
	for _, s := range raw {
		if s == "" {
			continue
		}
		if k == kindInt {
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				continue
			}
			k = kindFloat
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return kindString
		}
	}
	return k
}
