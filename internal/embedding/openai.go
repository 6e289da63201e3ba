// Package embedding provides query embedding via an OpenAI-compatible
// embeddings endpoint. Corpus embeddings are produced offline by the
// ingestion pipeline; this client only embeds queries.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const callTimeout = 30 * time.Second

// Client embeds query text with a configured embedding model.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

// New creates an embeddings client for an OpenAI-compatible endpoint.
func New(baseURL, apiKey, embeddingModel string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   embeddingModel,
		httpc:   &http.Client{Timeout: callTimeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding.Embed: no input texts")
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, model.NewError(model.KindUpstreamUnavailable, "embedding.Embed", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.KindUpstreamUnavailable, "embedding.Embed", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewError(model.KindUpstreamUnavailable, "embedding.Embed",
			fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%s", raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, model.NewError(model.KindProviderParse, "embedding.Embed", "decode response", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, model.NewError(model.KindProviderParse, "embedding.Embed",
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
	}
	return vectors, nil
}
