package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabfab/doc-chat/config"
)

func testConfig(host string) config.Config {
	cfg := config.Config{
		AIHubHost:   host,
		AIHubAPIKey: "test-key",
	}
	cfg.LLM = config.LLMConfig{Provider: config.ProviderAIHub, Model: "test-model"}
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestAIHubGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("API-KEY"); got != "test-key" {
			t.Errorf("unexpected API-KEY header: %q", got)
		}
		var req aihubGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}
		if req.Options.Temperature != 0.7 || req.Options.TopP != 0.9 || req.Options.MaxTokens != 1000 {
			t.Errorf("unexpected decoding options: %+v", req.Options)
		}
		json.NewEncoder(w).Encode(aihubGenerateResponse{Response: "generated answer"})
	}))
	defer server.Close()

	client := NewAIHubClient(testConfig(server.URL))
	answer, err := client.Generate(context.Background(), "some prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "generated answer" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestAIHubGenerateStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewAIHubClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), "prompt")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status code: %d", statusErr.Code)
	}
}

func TestAIHubGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(aihubGenerateResponse{Error: "model unavailable"})
	}))
	defer server.Close()

	client := NewAIHubClient(testConfig(server.URL))
	if _, err := client.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error from API error payload")
	}
}

func TestAIHubGenerateHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise this handler
		// never unblocks and server.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewAIHubClient(testConfig(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "prompt")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestNewClientValidatesProvider(t *testing.T) {
	cfg := testConfig("http://example.invalid")
	cfg.LLM.Provider = "nonsense"
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	cfg.LLM.Provider = config.ProviderAIHub
	cfg.AIHubAPIKey = ""
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
