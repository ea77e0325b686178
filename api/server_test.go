package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/ingestion"
	"github.com/fabfab/doc-chat/session"
	"github.com/fabfab/doc-chat/vectorstore"
)

// flatEmbedder embeds every text to the same vector so index writes succeed
// without a backend.
type flatEmbedder struct{}

func (flatEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (flatEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (flatEmbedder) Dimension() int { return 2 }

type fixedLLM struct {
	answer string
}

func (f fixedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.answer, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := vectorstore.NewMemoryStore(flatEmbedder{})
	loader := ingestion.NewLoader(ingestion.NewParserRegistry(), nil, 2, logger)
	cfg := config.Load()
	cfg.Ingestion.DataDir = t.TempDir()
	ingest := ingestion.NewService(store, loader, nil, cfg.Ingestion, logger)

	return New(cfg, Deps{
		Ingest:   ingest,
		Sessions: session.NewRegistry(logger),
		LLM:      fixedLLM{answer: "stubbed answer"},
	}, nil, logger)
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestUploadThenChat(t *testing.T) {
	server := newTestServer(t)

	body, contentType := multipartUpload(t, "notes.py", "print('the capital of France is Paris')\n")
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var upload uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&upload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if len(upload.ProcessedFiles) != 1 || upload.ProcessedFiles[0] != "notes.py" {
		t.Fatalf("unexpected processed files: %v", upload.ProcessedFiles)
	}

	chatBody := strings.NewReader(`{"question": "What is the capital of France?"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/s1/chat", chatBody)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("chat status %d: %s", rec.Code, rec.Body.String())
	}
	var chat chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&chat); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if chat.Answer != "stubbed answer" {
		t.Fatalf("unexpected answer: %q", chat.Answer)
	}
	if chat.ContextChunks == 0 {
		t.Fatal("expected retrieved context chunks")
	}
	if len(chat.Sources) == 0 {
		t.Fatal("expected at least one source")
	}
	if !strings.Contains(chat.Sources[0].Content, "Paris") {
		t.Fatalf("source preview missing ingested text: %q", chat.Sources[0].Content)
	}
	if chat.Sources[0].Metadata["file_name"] != "notes.py" {
		t.Fatalf("unexpected source metadata: %v", chat.Sources[0].Metadata)
	}
	if chat.ConversationLength != 1 {
		t.Fatalf("unexpected conversation length: %d", chat.ConversationLength)
	}
}

func TestChatBeforeUpload(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/chat", strings.NewReader(`{"question": "hi"}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before upload, got %d", rec.Code)
	}
}

func TestChatRejectsEmptyQuestion(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/chat", strings.NewReader(`{"question": "  "}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question, got %d", rec.Code)
	}
}

func TestUploadWithoutFiles(t *testing.T) {
	server := newTestServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty upload, got %d", rec.Code)
	}
}

func TestSessionInfoAndClear(t *testing.T) {
	server := newTestServer(t)

	body, contentType := multipartUpload(t, "notes.py", "print('hello')\n")
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("info status %d", rec.Code)
	}
	var info sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Session != "s1" || len(info.ProcessedFiles) != 1 || info.ChunkCount == 0 {
		t.Fatalf("unexpected session info: %+v", info)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d", rec.Code)
	}
}

func TestUnknownSessionInfo(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docchat_http_requests_total") {
		t.Fatal("expected docchat_http_requests_total in metrics output")
	}
}

func TestIngestedFilesMetricSkipsDuplicates(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 2; i++ {
		body, contentType := multipartUpload(t, "notes.py", "print('hello')\n")
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("upload %d status %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docchat_ingest_files_total 1") {
		t.Fatalf("expected docchat_ingest_files_total 1 after a duplicate upload, got:\n%s", rec.Body.String())
	}
}
