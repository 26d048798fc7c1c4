// Package export renders a finished selection set as CSV.
package export

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/adityalohuni/pickscrape/internal/protocol"
)

var baseColumns = []string{"tag", "text", "id", "className", "attributes"}

// Exporter writes every cell quoted, in a column order that never depends on
// the data.
type Exporter struct {
	IncludeInnerHTML bool
}

func (e Exporter) Columns() []string {
	cols := append([]string(nil), baseColumns...)
	if e.IncludeInnerHTML {
		cols = append(cols, "innerHTML")
	}
	return cols
}

// Export returns "" for an empty set, otherwise a header row followed by one
// row per element, separated by "\n".
func (e Exporter) Export(elements []protocol.SelectedElement) string {
	if len(elements) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow(&b, e.Columns())
	for _, el := range elements {
		b.WriteByte('\n')
		writeRow(&b, e.row(el))
	}
	return b.String()
}

func (e Exporter) row(el protocol.SelectedElement) []string {
	cells := []string{el.Tag, el.Text, el.ID, el.ClassName, attributesCell(el.Attributes)}
	if e.IncludeInnerHTML {
		cells = append(cells, el.InnerHTML)
	}
	return cells
}

func writeRow(b *strings.Builder, cells []string) {
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Cell(c))
	}
}

// Cell quotes s for a single CSV cell: quotes are doubled and any line break
// becomes one space.
func Cell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// attributesCell keeps row width constant by collapsing the map into its
// JSON form. encoding/json sorts map keys.
func attributesCell(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(attrs); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
