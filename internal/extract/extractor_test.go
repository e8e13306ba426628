package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	doc, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt", "notes.txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "Hello world\nLine 2" || doc.Ref != "notes.txt" {
		t.Errorf("got %+v", doc)
	}
	if len(doc.Tables) != 0 {
		t.Error("plain text has no tables")
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	doc, err := e.ExtractBytes([]byte("hello\x80world"), ".md", "x.md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "hello�world" {
		t.Errorf("got %q", doc.Text)
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes([]byte("raw content"), ".xyz", "x.xyz")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "raw content" {
		t.Errorf("got %q", doc.Text)
	}
}

func excelBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "test")
	f.SetCellValue("Sheet1", "B1", "result")
	f.SetCellValue("Sheet1", "A2", "glucose")
	f.SetCellValue("Sheet1", "B2", "5.4")
	f.SetCellValue("Sheet1", "A4", "hba1c")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestExtractBytes_excel(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes(excelBytes(t), ".xlsx", "labs.xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "" {
		t.Errorf("spreadsheets have no base text, got %q", doc.Text)
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("tables = %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if tbl.Name != "Sheet1" || !reflect.DeepEqual(tbl.Header, []string{"test", "result"}) {
		t.Errorf("header = %v (%s)", tbl.Header, tbl.Name)
	}
	want := [][]string{{"glucose", "5.4"}, {"hba1c", ""}}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("rows = %v, want %v (blank row skipped, short row padded)", tbl.Rows, want)
	}
}

func TestExtractBytes_csv(t *testing.T) {
	content := []byte("\xef\xbb\xbfpatient_id,test,value\np1, glucose,5.4\n\np2,ldl,3.1\n")
	doc, err := NewExtractor().ExtractBytes(content, ".csv", "/data/labs.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("tables = %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if tbl.Name != "labs" || tbl.Header[0] != "patient_id" {
		t.Errorf("table = %+v", tbl)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[0][1] != "glucose" {
		t.Errorf("rows = %v", tbl.Rows)
	}
}

func TestExtractBytes_csvMalformed(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("a,\"b\nc"), ".csv", "x.csv"); err == nil {
		t.Error("unterminated quote should fail")
	}
}

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// minimalDocx returns .docx zip bytes whose main part holds body.
func minimalDocx(body, docPath string, contentTypes bool) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if contentTypes {
		ct, _ := w.Create("[Content_Types].xml")
		_, _ = ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/` + docPath + `"/>
</Types>`))
	}
	fw, _ := w.Create(docPath)
	_, _ = fw.Write([]byte(`<w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func TestExtractBytes_docx(t *testing.T) {
	body := para("Anemia overview") + para("Iron deficiency is common.")
	doc, err := NewExtractor().ExtractBytes(minimalDocx(body, docxDocumentXMLPath, false), ".docx", "a.docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "Anemia overview\nIron deficiency is common." {
		t.Errorf("got %q", doc.Text)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	doc, err := NewExtractor().ExtractBytes(minimalDocx(para("From document3"), "word/document3.xml", true), ".docx", "a.docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if doc.Text != "From document3" {
		t.Errorf("got %q", doc.Text)
	}
}

func TestExtractBytes_docxTable(t *testing.T) {
	cell := func(s string) string { return `<w:tc>` + para(s) + `</w:tc>` }
	table := `<w:tbl><w:tr>` + cell("Marker") + cell("Range") + `</w:tr><w:tr>` + cell("Ferritin") + cell("30-400") + `</w:tr></w:tbl>`
	doc, err := NewExtractor().ExtractBytes(minimalDocx(para("Intro")+table+para("Outro"), docxDocumentXMLPath, false), ".docx", "a.docx")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Text != "Intro\nOutro" {
		t.Errorf("table text leaked into body: %q", doc.Text)
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("tables = %d", len(doc.Tables))
	}
	if !reflect.DeepEqual(doc.Tables[0].Header, []string{"Marker", "Range"}) ||
		!reflect.DeepEqual(doc.Tables[0].Rows, [][]string{{"Ferritin", "30-400"}}) {
		t.Errorf("table = %+v", doc.Tables[0])
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".docx", "a.docx"); err == nil {
		t.Error("expected error for non-zip docx")
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, _ = w.Create("other.xml")
	_ = w.Close()
	if _, err := NewExtractor().ExtractBytes(buf.Bytes(), ".docx", "a.docx"); err == nil {
		t.Error("expected error when main part is missing")
	}
}

func minimalOds(contentXML string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create(odsContentPath)
	_, _ = fw.Write([]byte(contentXML))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_ods(t *testing.T) {
	contentXML := `<office:document><office:body><table:table table:name="History">` +
		`<table:table-row><table:table-cell><text:p>condition</text:p></table:table-cell><table:table-cell><text:p>since</text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell><text:p><text:span>asthma</text:span></text:p></table:table-cell><table:table-cell><text:p>2010</text:p></table:table-cell><table:table-cell table:number-columns-repeated="1020"/></table:table-row>` +
		`<table:table-row table:number-rows-repeated="100"><table:table-cell table:number-columns-repeated="1024"/></table:table-row>` +
		`</table:table></office:body></office:document>`
	doc, err := NewExtractor().ExtractBytes(minimalOds(contentXML), ".ods", "h.ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("tables = %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if tbl.Name != "History" || !reflect.DeepEqual(tbl.Header, []string{"condition", "since"}) {
		t.Errorf("table = %+v", tbl)
	}
	if !reflect.DeepEqual(tbl.Rows, [][]string{{"asthma", "2010"}}) {
		t.Errorf("rows = %v", tbl.Rows)
	}
}

func TestExtractBytes_odsContentNotFound(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, _ = w.Create("meta.xml")
	_ = w.Close()
	if _, err := NewExtractor().ExtractBytes(buf.Bytes(), ".ods", "x.ods"); err == nil {
		t.Error("expected error when content.xml is missing")
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labs.xlsx")
	if err := os.WriteFile(path, excelBytes(t), 0600); err != nil {
		t.Fatal(err)
	}
	e := NewExtractor()
	doc, err := e.ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if doc.Ref != path || len(doc.Tables) != 1 {
		t.Errorf("doc = %+v", doc)
	}
	tables, err := e.ExtractTables(path)
	if err != nil || len(tables) != 1 {
		t.Errorf("ExtractTables = %v, %v", tables, err)
	}
}

func TestExtractFile_errors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractFile(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := e.ExtractTables("notes.txt"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := e.ExtractBytes([]byte("not a pdf"), ".pdf", "x.pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
}
