// Package websearch wraps the external web search API used by the
// web-fallback path. Results map onto the chunk schema so the downstream
// reranker and generator treat them like corpus chunks.
package websearch

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

// Client queries the search API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a web search client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: callTimeout},
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search returns up to k web results as synthetic chunks: filename carries
// the page title, page is "web", and source_url the result URL.
func (c *Client) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	body, err := json.Marshal(searchRequest{Query: query, MaxResults: k})
	if err != nil {
		return nil, fmt.Errorf("websearch.Search: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("websearch.Search: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, model.NewError(model.KindUpstreamUnavailable, "websearch.Search", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.KindUpstreamUnavailable, "websearch.Search", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewError(model.KindUpstreamUnavailable, "websearch.Search",
			fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%s", raw))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, model.NewError(model.KindProviderParse, "websearch.Search", "decode response", err)
	}

	chunks := make([]model.RankedChunk, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		if i >= k {
			break
		}
		chunks = append(chunks, model.RankedChunk{
			Chunk: model.Chunk{
				ID:         fmt.Sprintf("web-%d", i),
				Text:       r.Content,
				Filename:   r.Title,
				Page:       "web",
				SourceURL:  r.URL,
				SourceType: model.SourceWeb,
			},
			RetrievalScore: r.Score,
		})
	}
	return chunks, nil
}
