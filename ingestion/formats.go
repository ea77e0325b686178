package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported input file formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatDOCX represents Word documents.
	FormatDOCX DocumentFormat = "docx"
	// FormatJSON represents JSON documents.
	FormatJSON DocumentFormat = "json"
	// FormatCSV represents comma separated values documents.
	FormatCSV DocumentFormat = "csv"
	// FormatPython represents Python source files.
	FormatPython DocumentFormat = "python"
	// FormatNotebook represents Jupyter notebooks.
	FormatNotebook DocumentFormat = "notebook"
	// FormatImage represents image files, routed to the vision describer
	// instead of a text parser.
	FormatImage DocumentFormat = "image"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	case ".py":
		return FormatPython
	case ".ipynb":
		return FormatNotebook
	case ".png", ".jpg", ".jpeg":
		return FormatImage
	default:
		return FormatUnknown
	}
}

// IsImage reports whether the path routes to the vision describer.
func IsImage(path string) bool {
	return DetectFormat(path) == FormatImage
}
