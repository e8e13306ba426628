// Package extract turns reference documents into SourceDocuments: base text plus tabular extracts.
package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// ErrUnsupported is returned for formats that have no tabular representation.
var ErrUnsupported = errors.New("unsupported format")

// Extractor reads document files into text and tables.
type Extractor struct {
	logger *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger used to report skipped content.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// ExtractFile reads the file at path and returns its content. The path is used as the document ref.
func (e *Extractor) ExtractFile(path string) (models.SourceDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return models.SourceDocument{}, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext, path)
}

// ExtractBytes extracts text and tables from content based on ext (with leading dot).
// Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext, ref string) (models.SourceDocument, error) {
	doc := models.SourceDocument{Ref: ref}
	var err error
	switch ext {
	case ".pdf":
		doc.Text, err = extractPDF(content)
	case ".docx":
		doc.Text, doc.Tables, err = extractDOCX(content)
	case ".xlsx":
		doc.Tables, err = extractExcel(content)
	case ".ods":
		doc.Tables, err = extractODS(content)
	case ".csv":
		var t models.Table
		t, err = extractCSV(content, strings.TrimSuffix(filepath.Base(ref), ext))
		if len(t.Header) > 0 {
			doc.Tables = []models.Table{t}
		}
	default:
		doc.Text, err = extractPlain(content)
	}
	if err != nil {
		return models.SourceDocument{}, err
	}
	e.logger.Debug("extracted document",
		zap.String("ref", ref),
		zap.Int("text_bytes", len(doc.Text)),
		zap.Int("tables", len(doc.Tables)))
	return doc, nil
}

// ExtractTables reads only the tables of a spreadsheet-like file (.xlsx, .ods, .csv).
func (e *Extractor) ExtractTables(path string) ([]models.Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx", ".ods", ".csv":
	default:
		return nil, fmt.Errorf("%w: %s has no tables", ErrUnsupported, ext)
	}
	doc, err := e.ExtractFile(path)
	if err != nil {
		return nil, err
	}
	return doc.Tables, nil
}

// readZipEntry returns the bytes of the named entry, or nil when absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

// newTable splits rows into header and data rows, padding every row to the header width.
func newTable(name string, rows [][]string) models.Table {
	if len(rows) == 0 {
		return models.Table{Name: name}
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	pad := func(r []string) []string {
		out := make([]string, width)
		for i := range r {
			out[i] = strings.TrimSpace(r[i])
		}
		return out
	}
	t := models.Table{Name: name, Header: pad(rows[0])}
	for _, r := range rows[1:] {
		t.Rows = append(t.Rows, pad(r))
	}
	return t
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
