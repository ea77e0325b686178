package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fabfab/doc-chat/config"
)

type aihubClient struct {
	host   string
	apiKey string
	model  string
	client *http.Client
}

type aihubGenerateRequest struct {
	Model   string               `json:"model"`
	Prompt  string               `json:"prompt"`
	Stream  bool                 `json:"stream"`
	Options aihubGenerateOptions `json:"options"`
}

type aihubGenerateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type aihubGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func NewAIHubClient(cfg config.Config) Client {
	return &aihubClient{
		host:   strings.TrimRight(cfg.AIHubHost, "/"),
		apiKey: cfg.AIHubAPIKey,
		model:  cfg.LLM.Model,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

func (c *aihubClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(aihubGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: aihubGenerateOptions{
			Temperature: Temperature,
			TopP:        TopP,
			MaxTokens:   MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/generate/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generate API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode}
	}

	var parsed aihubGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("generate API error: %s", parsed.Error)
	}

	return parsed.Response, nil
}
