package sqlgate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render lays rows out as a fixed-width text table: a header, a dashed
// separator, and left-justified cells padded to the widest value of each
// column, followed by a row count.
func Render(columns []string, rows [][]string) string {
	if len(columns) == 0 {
		return "(no columns)"
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], utf8.RuneCountInString(row[i]))
		}
	}

	var b strings.Builder
	writeRow(&b, columns, widths)

	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	b.WriteString(strings.Join(sep, "-+-"))
	b.WriteByte('\n')

	for _, row := range rows {
		writeRow(&b, row, widths)
	}

	if len(rows) == 1 {
		b.WriteString("(1 row)")
	} else {
		fmt.Fprintf(&b, "(%d rows)", len(rows))
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	padded := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		padded[i] = cell + strings.Repeat(" ", w-utf8.RuneCountInString(cell))
	}
	b.WriteString(strings.TrimRight(strings.Join(padded, " | "), " "))
	b.WriteByte('\n')
}
