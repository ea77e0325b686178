package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// DocumentPayload is one staged file's raw bytes plus its path.
type DocumentPayload struct {
	Path string
	Data []byte
}

// DocumentParser turns a payload into zero or more Documents. Parsers may
// fail on malformed input; the loader resolves failures to zero documents.
type DocumentParser interface {
	Parse(payload DocumentPayload) ([]Document, error)
}

// ParserRegistry maps a detected format to its parser. New formats register
// an entry rather than extending branch logic.
type ParserRegistry struct {
	parsers map[DocumentFormat]DocumentParser
}

func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		parsers: map[DocumentFormat]DocumentParser{
			FormatPDF:      pdfParser{},
			FormatDOCX:     docxParser{},
			FormatJSON:     jsonParser{},
			FormatCSV:      csvParser{},
			FormatPython:   plainTextParser{},
			FormatNotebook: notebookParser{},
		},
	}
}

// ParserFor returns the parser registered for format, or false for formats
// without one (unknown extensions and images).
func (r *ParserRegistry) ParserFor(format DocumentFormat) (DocumentParser, bool) {
	parser, ok := r.parsers[format]
	return parser, ok
}

// Register installs a parser for a format, replacing any existing entry.
func (r *ParserRegistry) Register(format DocumentFormat, parser DocumentParser) {
	r.parsers[format] = parser
}

type pdfParser struct{}

func (pdfParser) Parse(payload DocumentPayload) ([]Document, error) {
	reader := bytes.NewReader(payload.Data)
	doc, err := pdf.NewReader(reader, int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []Document{NewDocument(content, filepath.Base(payload.Path))}, nil
}

type docxParser struct{}

// Parse reads only the subset of WordprocessingML we need: text runs inside
// word/document.xml, with paragraph ends becoming newlines.
func (docxParser) Parse(payload DocumentPayload) ([]Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}

	var documentXML io.ReadCloser
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			documentXML, err = file.Open()
			if err != nil {
				return nil, fmt.Errorf("open docx document part: %w", err)
			}
			break
		}
	}
	if documentXML == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}
	defer documentXML.Close()

	content, err := extractDocxText(documentXML)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []Document{NewDocument(content, filepath.Base(payload.Path))}, nil
}

func extractDocxText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var builder strings.Builder
	var inText bool

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode docx xml: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				builder.Write(t)
			}
		}
	}

	return normalizePlainText(builder.String()), nil
}

type jsonParser struct{}

func (jsonParser) Parse(payload DocumentPayload) ([]Document, error) {
	var value any
	if err := json.Unmarshal(payload.Data, &value); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	rendered, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}

	return []Document{NewDocument(string(rendered), filepath.Base(payload.Path))}, nil
}

type csvParser struct{}

// Parse emits one Document per data row, rendered as "header: value" lines,
// so each row is independently retrievable.
func (csvParser) Parse(payload DocumentPayload) ([]Document, error) {
	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	rows := records[1:]
	fileName := filepath.Base(payload.Path)

	docs := make([]Document, 0, len(rows))
	for idx, row := range rows {
		docs = append(docs, NewDocument(formatCSVRow(headers, row, idx), fileName))
	}
	return docs, nil
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		value := strings.TrimSpace(row[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(value)
	}

	// Values beyond the header count still get recorded.
	for i := len(headers); i < len(row); i++ {
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}

type plainTextParser struct{}

func (plainTextParser) Parse(payload DocumentPayload) ([]Document, error) {
	content := normalizePlainText(string(payload.Data))
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []Document{NewDocument(content, filepath.Base(payload.Path))}, nil
}

type notebookParser struct{}

type notebookFile struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   notebookSource  `json:"source"`
	Outputs  json.RawMessage `json:"outputs"`
}

// notebookSource accepts both the list-of-lines and single-string encodings
// the notebook format allows.
type notebookSource string

func (s *notebookSource) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = notebookSource(single)
		return nil
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*s = notebookSource(strings.Join(lines, ""))
	return nil
}

func (notebookParser) Parse(payload DocumentPayload) ([]Document, error) {
	var nb notebookFile
	if err := json.Unmarshal(payload.Data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}

	sections := make([]string, 0, len(nb.Cells))
	for _, cell := range nb.Cells {
		source := strings.TrimSpace(string(cell.Source))
		if source == "" {
			continue
		}
		switch cell.CellType {
		case "markdown":
			sections = append(sections, source)
		case "code":
			sections = append(sections, "```python\n"+source+"\n```")
		}
	}
	if len(sections) == 0 {
		return nil, nil
	}

	return []Document{NewDocument(strings.Join(sections, "\n\n"), filepath.Base(payload.Path))}, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
