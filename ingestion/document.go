// Package ingestion turns uploaded files into chunked, embedded entries in a
// session's vector index: staging, format-dispatched loading, recursive
// splitting, and an all-or-nothing commit.
package ingestion

// Document is one unit of text extracted from an input file. It is immutable
// once produced; the chunker is its only consumer.
type Document struct {
	Content  string
	Metadata map[string]string
}

// NewDocument builds a Document carrying its source file name in metadata.
func NewDocument(content, fileName string) Document {
	return Document{
		Content:  content,
		Metadata: map[string]string{"file_name": fileName},
	}
}
