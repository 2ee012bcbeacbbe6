// Package ollama talks to a local Ollama server through its native generate API.
package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fundrag/internal/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "mistral"
)

type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls POST {base_url}/api/generate without streaming.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: t},
	}
}

func (c *Client) Name() string { return "ollama:" + c.model }

// Generate returns the model response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": c.temperature,
		},
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := llm.PostJSON(ctx, c.client, c.baseURL+"/api/generate", nil, req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
