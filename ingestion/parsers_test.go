package ingestion

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		path string
		want DocumentFormat
	}{
		{"report.pdf", FormatPDF},
		{"notes.DOCX", FormatDOCX},
		{"data.json", FormatJSON},
		{"table.csv", FormatCSV},
		{"script.py", FormatPython},
		{"analysis.ipynb", FormatNotebook},
		{"photo.PNG", FormatImage},
		{"diagram.jpeg", FormatImage},
		{"archive.tar.gz", FormatUnknown},
	}

	for _, tc := range cases {
		if got := DetectFormat(tc.path); got != tc.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestCSVParserEmitsRowDocuments(t *testing.T) {
	data := []byte("name,age\nAlice,30\nBob,25\n")
	docs, err := csvParser{}.Parse(DocumentPayload{Path: "people.csv", Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if !strings.Contains(docs[0].Content, "name: Alice") || !strings.Contains(docs[0].Content, "age: 30") {
		t.Fatalf("unexpected first row content: %q", docs[0].Content)
	}
	if !strings.HasPrefix(docs[1].Content, "Row 2") {
		t.Fatalf("expected row numbering, got %q", docs[1].Content)
	}
	if docs[0].Metadata["file_name"] != "people.csv" {
		t.Fatalf("unexpected metadata: %v", docs[0].Metadata)
	}
}

func TestCSVParserRaggedRows(t *testing.T) {
	data := []byte("a,b\n1\n2,3,4\n")
	docs, err := csvParser{}.Parse(DocumentPayload{Path: "ragged.csv", Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if !strings.Contains(docs[1].Content, "Extra 3: 4") {
		t.Fatalf("expected extra column to be recorded, got %q", docs[1].Content)
	}
}

func TestJSONParserRendersIndented(t *testing.T) {
	docs, err := jsonParser{}.Parse(DocumentPayload{Path: "cfg.json", Data: []byte(`{"b":1,"a":[true,null]}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if !strings.Contains(docs[0].Content, "\"a\": [") {
		t.Fatalf("expected indented rendering, got %q", docs[0].Content)
	}
}

func TestJSONParserRejectsInvalidInput(t *testing.T) {
	if _, err := (jsonParser{}).Parse(DocumentPayload{Path: "bad.json", Data: []byte("{")}); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestPlainTextParserNormalizesLineEndings(t *testing.T) {
	docs, err := plainTextParser{}.Parse(DocumentPayload{Path: "main.py", Data: []byte("print('hi')\r\nprint('bye')  \r\n")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if strings.Contains(docs[0].Content, "\r") {
		t.Fatal("carriage returns survived normalization")
	}
	if strings.Contains(docs[0].Content, "')  ") {
		t.Fatal("trailing whitespace survived normalization")
	}
}

func TestNotebookParserFencesCodeCells(t *testing.T) {
	data := []byte(`{
		"cells": [
			{"cell_type": "markdown", "source": ["# Title\n", "Intro text."]},
			{"cell_type": "code", "source": "x = 1\nprint(x)"},
			{"cell_type": "code", "source": "   "},
			{"cell_type": "raw", "source": "ignored"}
		]
	}`)

	docs, err := notebookParser{}.Parse(DocumentPayload{Path: "nb.ipynb", Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	content := docs[0].Content
	if !strings.Contains(content, "# Title\nIntro text.") {
		t.Fatalf("markdown cell missing or mangled: %q", content)
	}
	if !strings.Contains(content, "```python\nx = 1\nprint(x)\n```") {
		t.Fatalf("code cell not fenced: %q", content)
	}
	if strings.Contains(content, "ignored") {
		t.Fatal("raw cell should be skipped")
	}
}

func TestNotebookParserEmptyCells(t *testing.T) {
	docs, err := notebookParser{}.Parse(DocumentPayload{Path: "nb.ipynb", Data: []byte(`{"cells": []}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs != nil {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
}

func TestDocxParserExtractsParagraphs(t *testing.T) {
	documentXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	part, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := part.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	docs, err := docxParser{}.Parse(DocumentPayload{Path: "memo.docx", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if !strings.Contains(docs[0].Content, "First paragraph.\nSecond paragraph.") {
		t.Fatalf("unexpected content: %q", docs[0].Content)
	}
}

func TestDocxParserMissingDocumentPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("other.xml"); err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	if _, err := (docxParser{}).Parse(DocumentPayload{Path: "memo.docx", Data: buf.Bytes()}); err == nil {
		t.Fatal("expected error for missing word/document.xml")
	}
}

func TestParserRegistryLookup(t *testing.T) {
	registry := NewParserRegistry()

	for _, format := range []DocumentFormat{FormatPDF, FormatDOCX, FormatJSON, FormatCSV, FormatPython, FormatNotebook} {
		if _, ok := registry.ParserFor(format); !ok {
			t.Errorf("no parser registered for %q", format)
		}
	}
	if _, ok := registry.ParserFor(FormatImage); ok {
		t.Error("images should not have a text parser")
	}
	if _, ok := registry.ParserFor(FormatUnknown); ok {
		t.Error("unknown format should not have a parser")
	}
}
