package embeddings

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/doc-chat/config"
)

type openAIEmbedder struct {
	client     *openai.Client
	model      string
	dimension  int
	batchSize  int
	maxWorkers int
	logger     *log.Logger
}

func NewOpenAIEmbedder(cfg config.Config) Embedder {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &openAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Embeddings.Model,
		dimension:  cfg.Embeddings.Dimension,
		batchSize:  cfg.Embeddings.BatchSize,
		maxWorkers: cfg.Embeddings.MaxWorkers,
		logger:     log.Default(),
	}
}

func (e *openAIEmbedder) Dimension() int { return e.dimension }

func (e *openAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}

	vec := resp.Data[0].Embedding
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
	}
	return vec, nil
}

// EmbedMany goes through the shared batch runner rather than the native bulk
// API so that one poisoned text degrades to a zero vector instead of failing
// the whole request.
func (e *openAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return embedBatches(ctx, texts, e.batchSize, e.maxWorkers, e.dimension, e.EmbedOne,
		func(index int, err error) {
			e.logger.Printf("openai embedding failed for text %d, using zero vector: %v", index, err)
		})
}
