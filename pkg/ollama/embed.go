// Package ollama provides an Ollama-backed embedding client. The default
// model, all-minilm, produces 384-dimension vectors matching the vector
// collection's configured size.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmbedClient calls Ollama's HTTP embeddings API. Safe for concurrent use.
type EmbedClient struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewEmbedClient creates an embedding client. dims is the expected vector
// length; responses with any other length are rejected.
func NewEmbedClient(baseURL, model string, dims int) *EmbedClient {
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *EmbedClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(result.Embedding) != c.dims {
		return nil, fmt.Errorf("ollama embed: model %s returned %d dims, want %d", c.model, len(result.Embedding), c.dims)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Embed returns one vector per input text, in input order.
func (c *EmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed [%d]: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
