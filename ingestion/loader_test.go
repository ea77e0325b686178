package ingestion

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabfab/doc-chat/vision"
)

type stubDescriber struct {
	descriptions []vision.Description
	calls        [][]string
}

func (s *stubDescriber) DescribeMany(ctx context.Context, paths []string) []vision.Description {
	s.calls = append(s.calls, paths)
	return s.descriptions
}

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFilesSurvivesBadFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeTestFile(t, dir, "script.py", []byte("print('hello')\n"))
	corrupt := writeTestFile(t, dir, "broken.pdf", []byte("not a pdf at all"))
	unknown := writeTestFile(t, dir, "tool.exe", []byte{0x4d, 0x5a})

	loader := NewLoader(NewParserRegistry(), nil, 2, log.New(io.Discard, "", 0))
	docs := loader.LoadFiles(context.Background(), []string{good, corrupt, unknown})

	if len(docs) != 1 {
		t.Fatalf("expected 1 document from the good file, got %d", len(docs))
	}
	if docs[0].Metadata["file_name"] != "script.py" {
		t.Fatalf("unexpected source file: %v", docs[0].Metadata)
	}
}

func TestLoadFilesRoutesImagesToDescriber(t *testing.T) {
	dir := t.TempDir()
	image := writeTestFile(t, dir, "photo.png", []byte("fake image bytes"))
	text := writeTestFile(t, dir, "notes.py", []byte("x = 1\n"))

	describer := &stubDescriber{descriptions: []vision.Description{
		{Text: "a photo of a cat", FileName: "photo.png"},
	}}
	loader := NewLoader(NewParserRegistry(), describer, 2, log.New(io.Discard, "", 0))
	docs := loader.LoadFiles(context.Background(), []string{image, text})

	if len(describer.calls) != 1 || len(describer.calls[0]) != 1 || describer.calls[0][0] != image {
		t.Fatalf("describer calls = %v, want one call with the image path", describer.calls)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	byName := make(map[string]string, len(docs))
	for _, doc := range docs {
		byName[doc.Metadata["file_name"]] = doc.Content
	}
	if byName["photo.png"] != "a photo of a cat" {
		t.Fatalf("image description missing: %v", byName)
	}
	if _, ok := byName["notes.py"]; !ok {
		t.Fatalf("text file missing: %v", byName)
	}
}

func TestLoadFilesSkipsImagesWithoutDescriber(t *testing.T) {
	dir := t.TempDir()
	image := writeTestFile(t, dir, "photo.jpg", []byte("fake image bytes"))

	loader := NewLoader(NewParserRegistry(), nil, 2, log.New(io.Discard, "", 0))
	if docs := loader.LoadFiles(context.Background(), []string{image}); docs != nil {
		t.Fatalf("expected no documents, got %v", docs)
	}
}

func TestLoadFilesEmptyInput(t *testing.T) {
	loader := NewLoader(NewParserRegistry(), nil, 2, log.New(io.Discard, "", 0))
	if docs := loader.LoadFiles(context.Background(), nil); docs != nil {
		t.Fatalf("expected nil, got %v", docs)
	}
}
