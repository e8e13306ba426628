package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/diydoctor/internal/models"
)

// extractExcel returns one table per non-empty sheet; the first row is the header.
func extractExcel(content []byte) ([]models.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var tables []models.Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var kept [][]string
		for _, row := range rows {
			if !isBlankRow(row) {
				kept = append(kept, row)
			}
		}
		if len(kept) == 0 {
			continue
		}
		tables = append(tables, newTable(sheet, kept))
	}
	return tables, nil
}
