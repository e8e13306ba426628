package records

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/diydoctor/internal/models"
)

// FingerprintColumn is the table column holding the patient fingerprint.
const FingerprintColumn = "patient_id"

// RecordsFromTable turns table rows into records grouped by the fingerprint
// column. Numeric cells become float64 (see cellValue), blank cells are
// dropped, and the fingerprint column itself is not stored as a field.
func RecordsFromTable(collection string, t models.Table) (map[string][]models.Record, error) {
	col := -1
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), FingerprintColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("table %q has no %s column", t.Name, FingerprintColumn)
	}
	out := make(map[string][]models.Record)
	for _, row := range t.Rows {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		fields := make(map[string]any)
		for i, h := range t.Header {
			if i == col || i >= len(row) || strings.TrimSpace(h) == "" {
				continue
			}
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			fields[strings.TrimSpace(h)] = cellValue(cell)
		}
		fp := strings.TrimSpace(row[col])
		out[fp] = append(out[fp], models.Record{Collection: collection, Fields: fields})
	}
	return out, nil
}

// cellValue returns cell as a float64 only when the number prints back to the
// same text, so identifiers like "00123" and words like "NaN" stay strings.
func cellValue(cell string) any {
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return cell
	}
	if strconv.FormatFloat(f, 'f', -1, 64) != cell {
		return cell
	}
	return f
}

// Import loads every table into store under collection and returns the number
// of records written.
func Import(ctx context.Context, store Store, collection string, tables []models.Table) (int, error) {
	total := 0
	for _, t := range tables {
		byPatient, err := RecordsFromTable(collection, t)
		if err != nil {
			return total, err
		}
		fingerprints := make([]string, 0, len(byPatient))
		for fp := range byPatient {
			fingerprints = append(fingerprints, fp)
		}
		sort.Strings(fingerprints)
		for _, fp := range fingerprints {
			recs := byPatient[fp]
			if err := store.Insert(ctx, fp, recs); err != nil {
				return total, fmt.Errorf("failed to import records for %s: %w", fp, err)
			}
			total += len(recs)
		}
	}
	return total, nil
}
