package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// LocalEmbedder implements Embedder against the edge platform's own model
// serving endpoint. It is the default: no external API key, and the model
// runs in the same network as the gateway.
type LocalEmbedder struct {
	client    *http.Client
	apiBase   string
	apiKey    string
	model     string
	dimension int
}

// LocalConfig holds configuration for a platform-local embedder.
type LocalConfig struct {
	APIBase   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// NewLocalEmbedder creates a platform-local embedder.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("local embedder api_base is required")
	}
	if cfg.Model == "" {
		cfg.Model = "@cf/baai/bge-base-en-v1.5"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &LocalEmbedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		apiBase:   cfg.APIBase,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	bodyBytes, err := json.Marshal(localEmbeddingRequest{Text: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", e.apiBase, e.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var embResp localEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(embResp.Result.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embResp.Result.Data[0], nil
}

// Model returns the embedding model name.
func (e *LocalEmbedder) Model() string { return e.model }

// Dimension returns the embedding dimension.
func (e *LocalEmbedder) Dimension() int { return e.dimension }

// Platform API types

type localEmbeddingRequest struct {
	Text []string `json:"text"`
}

type localEmbeddingResponse struct {
	Result struct {
		Data [][]float64 `json:"data"`
	} `json:"result"`
	Success bool `json:"success"`
}
