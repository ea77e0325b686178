// Package vision turns image files into natural-language descriptions by
// calling the generation endpoint with the image attached.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/doc-chat/config"
)

const describePrompt = "Describe the image in detail"

// Description is one image's description together with the file it came from.
// Callers must correlate by FileName: batch results are completion-ordered.
type Description struct {
	FileName string
	Text     string
	// Failed marks placeholder text produced because the vision call errored.
	Failed bool
}

type Describer struct {
	host       string
	apiKey     string
	model      string
	maxWorkers int
	client     *http.Client
	logger     *log.Logger
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func NewDescriber(cfg config.Config, logger *log.Logger) *Describer {
	if logger == nil {
		logger = log.Default()
	}

	return &Describer{
		host:       strings.TrimRight(cfg.AIHubHost, "/"),
		apiKey:     cfg.AIHubAPIKey,
		model:      cfg.Vision.Model,
		maxWorkers: cfg.Vision.MaxWorkers,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

// Describe encodes the image at path and issues one synchronous vision call.
// Transport and HTTP failures propagate to the caller.
func (d *Describer) Describe(ctx context.Context, path string) (Description, error) {
	encoded, err := encodeImage(path)
	if err != nil {
		return Description{}, err
	}

	body, err := json.Marshal(generateRequest{
		Model:  d.model,
		Prompt: describePrompt,
		Images: []string{encoded},
		Stream: false,
	})
	if err != nil {
		return Description{}, fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+"/generate/", bytes.NewReader(body))
	if err != nil {
		return Description{}, fmt.Errorf("create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-KEY", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return Description{}, fmt.Errorf("call vision API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(data) > 0 {
			return Description{}, fmt.Errorf("vision API returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
		}
		return Description{}, fmt.Errorf("vision API returned %s", resp.Status)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Description{}, fmt.Errorf("decode vision response: %w", err)
	}
	if parsed.Error != "" {
		return Description{}, fmt.Errorf("vision API error: %s", parsed.Error)
	}

	return Description{
		FileName: filepath.Base(path),
		Text:     parsed.Response,
	}, nil
}

// DescribeMany describes each image on a bounded worker pool. A failed image
// contributes a placeholder description instead of dropping the batch.
// Result order follows completion, not input.
func (d *Describer) DescribeMany(ctx context.Context, paths []string) []Description {
	if len(paths) == 0 {
		return nil
	}

	workers := d.maxWorkers
	if workers <= 0 {
		workers = 4
	}
	if len(paths) < workers {
		workers = len(paths)
	}

	out := make(chan Description, len(paths))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			desc, err := d.Describe(ctx, path)
			if err != nil {
				d.logger.Printf("image processing failed for %s: %v", path, err)
				desc = Description{
					FileName: filepath.Base(path),
					Text:     fmt.Sprintf("Failed to process image: %s", filepath.Base(path)),
					Failed:   true,
				}
			}
			out <- desc
		}(path)
	}

	wg.Wait()
	close(out)

	results := make([]Description, 0, len(paths))
	for desc := range out {
		results = append(results, desc)
	}
	return results
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
