package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hyperjump/diydoctor/internal/models"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// Override elements may list PartName and ContentType in either order.
var (
	partNameFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	typeFirst     = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainPart finds the main document path from [Content_Types].xml, falling back to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	ct, err := readZipEntry(zr, contentTypesPath)
	if err != nil || ct == nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameFirst, typeFirst} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX returns body paragraphs as text (one per line) and every top-level
// <w:tbl> as a table whose first row is the header.
func extractDOCX(content []byte) (string, []models.Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := docxMainPart(zr)
	docXML, err := readZipEntry(zr, part)
	if err != nil {
		return "", nil, fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", nil, fmt.Errorf("extract DOCX: %s not found", part)
	}
	return parseWordML(docXML)
}

func parseWordML(docXML []byte) (string, []models.Table, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var (
		paragraphs []string
		tables     []models.Table
		para       strings.Builder
		inText     bool
		tblDepth   int
		rows       [][]string
		row        []string
		cell       []string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("extract DOCX: parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cell = nil
				}
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte(' ')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tblDepth > 0 {
					cell = append(cell, text)
				} else {
					paragraphs = append(paragraphs, text)
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cell, " "))
				}
			case "tr":
				if tblDepth == 1 && !isBlankRow(row) {
					rows = append(rows, row)
				}
			case "tbl":
				if tblDepth == 1 && len(rows) > 0 {
					tables = append(tables, newTable(fmt.Sprintf("table %d", len(tables)+1), rows))
				}
				tblDepth--
			}
		}
	}
	return strings.Join(paragraphs, "\n"), tables, nil
}
