// Package embeddings converts text into fixed-dimension vectors.
//
// EmbedMany is the workhorse: input is processed in sequential batches, each
// batch fans out onto a bounded worker pool, and the output slice is always
// parallel to the input. A text whose embedding fails after retries yields a
// zero vector instead of failing the batch, so callers can zip vectors back
// onto chunks positionally.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabfab/doc-chat/config"
)

type Embedder interface {
	// EmbedOne embeds a single text. Transport failures are retried with
	// backoff; the final attempt's error propagates to the caller.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// EmbedMany embeds texts preserving positional correspondence.
	// Per-item failures are replaced with zero vectors of the configured
	// dimension; the call itself only fails on context cancellation.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector length this embedder produces.
	Dimension() int
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	switch cfg.Embeddings.Provider {
	case config.ProviderAIHub:
		if cfg.AIHubAPIKey == "" {
			return nil, fmt.Errorf("aihub provider selected but AIHUB_API_KEY not set")
		}
		return NewAIHubEmbedder(cfg), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embeddings.Provider)
	}
}

// ZeroVector returns the deterministic fallback vector for a failed embedding.
func ZeroVector(dimension int) []float32 {
	return make([]float32, dimension)
}

// itemResult records the outcome of one embedding attempt within a batch.
// Collecting these and substituting fallbacks afterwards keeps the fail-soft
// contract a visible data transformation.
type itemResult struct {
	index int
	vec   []float32
	err   error
}

type embedOneFunc func(ctx context.Context, text string) ([]float32, error)

// embedBatches runs embedOne over texts in sequential batches of batchSize,
// with at most workers concurrent calls inside a batch. The result is parallel
// to texts; failed items carry a zero vector of the given dimension.
func embedBatches(
	ctx context.Context,
	texts []string,
	batchSize, workers, dimension int,
	embedOne embedOneFunc,
	onFailure func(index int, err error),
) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if workers <= 0 {
		workers = config.OptimalWorkers("io")
	}

	results := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		outcomes := make([]itemResult, len(batch))
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup

		for i, text := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, text string) {
				defer wg.Done()
				defer func() { <-sem }()
				vec, err := embedOne(ctx, text)
				outcomes[i] = itemResult{index: start + i, vec: vec, err: err}
			}(i, text)
		}
		wg.Wait()

		for _, outcome := range outcomes {
			if outcome.err != nil {
				if onFailure != nil {
					onFailure(outcome.index, outcome.err)
				}
				results[outcome.index] = ZeroVector(dimension)
				continue
			}
			results[outcome.index] = outcome.vec
		}
	}

	return results, nil
}
