package util

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// Table is a plain-text table with columns sized to their widest cell.
// Cells may carry ANSI color codes; they do not count towards the width.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable starts a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Values are formatted with %v; missing trailing
// cells are left blank.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = fmt.Sprintf("%v", values[i])
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the header, a dashed separator and every row to w.
func (t *Table) Render(w io.Writer) {
	if len(t.rows) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], visibleWidth(cell))
		}
	}

	dashes := make([]string, len(widths))
	for i, n := range widths {
		dashes[i] = strings.Repeat("-", n)
	}

	writeRow(w, t.headers, widths)
	writeRow(w, dashes, widths)
	for _, row := range t.rows {
		writeRow(w, row, widths)
	}
}

func writeRow(w io.Writer, cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = cell + strings.Repeat(" ", max(0, widths[i]-visibleWidth(cell)))
	}
	fmt.Fprintln(w, strings.Join(padded, " "))
}

func visibleWidth(s string) int {
	return utf8.RuneCountInString(ansiEscape.ReplaceAllString(s, ""))
}
