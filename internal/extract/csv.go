package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/hyperjump/diydoctor/internal/models"
)

// extractCSV parses content as one table; the first record is the header.
func extractCSV(content []byte, name string) (models.Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return models.Table{}, fmt.Errorf("parse CSV: %w", err)
	}
	var kept [][]string
	for _, rec := range records {
		if !isBlankRow(rec) {
			kept = append(kept, rec)
		}
	}
	return newTable(name, kept), nil
}
