package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/doc-chat/config"
)

type aihubEmbedder struct {
	host       string
	apiKey     string
	model      string
	dimension  int
	batchSize  int
	maxWorkers int
	maxRetries int
	client     *http.Client
	logger     *log.Logger

	// sleep is swappable so tests don't wait out the backoff.
	sleep func(time.Duration)
}

type aihubEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type aihubEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewAIHubEmbedder(cfg config.Config) Embedder {
	return &aihubEmbedder{
		host:       strings.TrimRight(cfg.AIHubHost, "/"),
		apiKey:     cfg.AIHubAPIKey,
		model:      cfg.Embeddings.Model,
		dimension:  cfg.Embeddings.Dimension,
		batchSize:  cfg.Embeddings.BatchSize,
		maxWorkers: cfg.Embeddings.MaxWorkers,
		maxRetries: cfg.Embeddings.MaxRetries,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: log.Default(),
		sleep:  time.Sleep,
	}
}

func (e *aihubEmbedder) Dimension() int { return e.dimension }

func (e *aihubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	retries := e.maxRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		vec, err := e.callEmbed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < retries {
			// Linear backoff matching the endpoint's rate-limit window.
			e.sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}

	return nil, lastErr
}

func (e *aihubEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return embedBatches(ctx, texts, e.batchSize, e.maxWorkers, e.dimension, e.EmbedOne,
		func(index int, err error) {
			e.logger.Printf("embedding failed for text %d, using zero vector: %v", index, err)
		})
}

func (e *aihubEmbedder) callEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(aihubEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/embed/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-KEY", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embed API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(data) > 0 {
			return nil, fmt.Errorf("embed API returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("embed API returned %s", resp.Status)
	}

	var parsed aihubEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embed API error: %s", parsed.Error)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("embed API returned no vectors")
	}

	vec := parsed.Embeddings[0]
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
	}

	return vec, nil
}
