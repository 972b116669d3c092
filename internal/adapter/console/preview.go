// Package console renders survey tables for terminal output.
package console

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

const nullCell = "NULL"

// Preview writes the first limit rows of tbl as a light-style table followed
// by a footer with the full table shape. A limit of zero or less prints the
// header only.
func Preview(w io.Writer, tbl *domain.Table, limit int) error {
	header := make(table.Row, 0, tbl.Width())
	for _, name := range tbl.Columns() {
		header = append(header, name)
	}

	n := min(max(limit, 0), tbl.Len())
	rows := make([]table.Row, 0, n)
	for i := range n {
		row := tbl.Row(i)
		for j, v := range row {
			if v == nil {
				row[j] = nullCell
			}
		}
		rows = append(rows, table.Row(row))
	}

	t := table.NewWriter()
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.AppendFooter(table.Row{fmt.Sprintf("%d rows x %d columns", tbl.Len(), tbl.Width())})
	t.SetStyle(table.StyleLight)
	t.Style().Format = table.FormatOptions{
		Footer: text.FormatDefault,
		Header: text.FormatDefault,
		Row:    text.FormatDefault,
	}
	t.Style().Options.DrawBorder = false

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}
