package models

import "strings"

// Record is one flat key-value patient record from a collection.
type Record struct {
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
}

// Table is a tabular extract: a header row followed by data rows.
type Table struct {
	Name   string     `json:"name,omitempty"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// SourceDocument is extracted document content before chunking.
type SourceDocument struct {
	Ref    string  `json:"ref"`
	Text   string  `json:"text"`
	Tables []Table `json:"tables,omitempty"`
}

// IsEmpty reports whether the document has neither text nor table rows.
func (d SourceDocument) IsEmpty() bool {
	if strings.TrimSpace(d.Text) != "" {
		return false
	}
	for _, t := range d.Tables {
		if len(t.Header) > 0 || len(t.Rows) > 0 {
			return false
		}
	}
	return true
}
