package indexer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/diydoctor/internal/models"
)

// SerializeRecord flattens a record into "key: value" lines sorted by key. The
// whole string is lowercased and underscores are removed, so "Test_Name" and
// "testname" serialize identically. Empty keys are skipped.
func SerializeRecord(r models.Record) string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, formatValue(r.Fields[k])))
	}
	out := strings.ToLower(strings.Join(lines, "\n"))
	return strings.ReplaceAll(out, "_", "")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Preprocess(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return Preprocess(fmt.Sprint(x))
	}
}

// RenderTable renders t as a markdown table. A named table is preceded by its name as a heading.
func RenderTable(t models.Table) string {
	if len(t.Header) == 0 && len(t.Rows) == 0 {
		return ""
	}
	header := t.Header
	if len(header) == 0 {
		header = make([]string, len(t.Rows[0]))
	}
	var b strings.Builder
	if t.Name != "" {
		b.WriteString("### " + Preprocess(t.Name) + "\n\n")
	}
	writeRow(&b, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, r := range t.Rows {
		cells := make([]string, len(header))
		copy(cells, r)
		writeRow(&b, cells)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" " + escapeCell(c) + " |")
	}
	b.WriteString("\n")
}

// TablesDocument renders every table and joins them with a blank line into one text.
func TablesDocument(tables []models.Table) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		if md := RenderTable(t); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n")
}
