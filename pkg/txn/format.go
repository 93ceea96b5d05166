package txn

import (
	"strings"

	"github.com/papiermache/dlex/pkg/datafile"
	"github.com/papiermache/dlex/pkg/schema"
)

// formatRows renders select results as one line per row, columns in
// declared order as `name="value"`, trailing NUL padding trimmed from every
// non-password column. password columns are rendered as a fixed placeholder rather
// than leaking their raw digest bytes over the wire.
func formatRows(tbl *schema.Table, rows []datafile.Row) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, col := range tbl.Columns() {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			b.WriteString(`="`)
			if col.Type == schema.TypePassword {
				b.WriteString("****")
			} else {
				b.WriteString(escapeValue(trimTrailingZero(row.Values[col.Name])))
			}
			b.WriteByte('"')
		}
	}
	return b.String()
}

func trimTrailingZero(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
