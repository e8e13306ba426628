package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hyperjump/diydoctor/internal/models"
)

// odsContentPath is the path to the main content inside an .ods zip (OpenDocument Spreadsheet).
const odsContentPath = "content.xml"

// maxRepeatedCells caps table:number-columns-repeated, which spreadsheets use to pad rows to 1024+ columns.
const maxRepeatedCells = 64

// extractODS returns one table per sheet of an OpenDocument spreadsheet.
func extractODS(content []byte) ([]models.Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract ODS: not a zip: %w", err)
	}
	contentXML, err := readZipEntry(zr, odsContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract ODS: %w", err)
	}
	if contentXML == nil {
		return nil, fmt.Errorf("extract ODS: %s not found", odsContentPath)
	}
	return parseODSContent(contentXML)
}

func parseODSContent(contentXML []byte) ([]models.Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(contentXML))
	var (
		tables  []models.Table
		name    string
		rows    [][]string
		row     []string
		cell    []string
		para    strings.Builder
		repeat  int
		inTable bool
		inPara  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract ODS: parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				inTable = true
				name = attr(t, "name")
				rows = nil
			case "table-row":
				row = nil
			case "table-cell", "covered-table-cell":
				cell = nil
				repeat = 1
				if n, err := strconv.Atoi(attr(t, "number-columns-repeated")); err == nil && n > 1 {
					repeat = min(n, maxRepeatedCells)
				}
			case "p":
				inPara = true
				para.Reset()
			}
		case xml.CharData:
			if inPara {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPara = false
				if text := strings.TrimSpace(para.String()); text != "" {
					cell = append(cell, text)
				}
			case "table-cell", "covered-table-cell":
				value := strings.Join(cell, " ")
				for i := 0; i < repeat; i++ {
					row = append(row, value)
				}
			case "table-row":
				if !inTable || isBlankRow(row) {
					continue
				}
				rows = append(rows, trimTrailingEmpty(row))
			case "table":
				inTable = false
				if len(rows) > 0 {
					if name == "" {
						name = fmt.Sprintf("sheet %d", len(tables)+1)
					}
					tables = append(tables, newTable(name, rows))
				}
			}
		}
	}
	return tables, nil
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
