package llm

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

const (
	groqBaseURL = "https://api.groq.com/openai/v1"

	// callTimeout is the hard ceiling for each HTTP attempt; every retry
	// gets a fresh budget.
	callTimeout = 30 * time.Second
)

// HTTPClient is an OpenAI-compatible chat completions client. The fast
// provider (Groq) and any OpenAI-compatible endpoint share this
// implementation, differing only in base URL and credentials.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	provider   string
	nativeJSON bool
	httpc      *http.Client
}

// NewFast returns a client for the fast hosted provider.
func NewFast(apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    groqBaseURL,
		apiKey:     apiKey,
		provider:   "fast",
		nativeJSON: true,
		httpc:      &http.Client{Timeout: callTimeout},
	}
}

// NewOpenAICompatible returns a client for an OpenAI-compatible endpoint.
// Native JSON mode is assumed: response_format is always sent in JSON mode.
// An endpoint that rejects it with a 4xx fails the call; there is no
// automatic fallback to the schema-reminder path.
func NewOpenAICompatible(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		provider:   "openai-compatible",
		nativeJSON: true,
		httpc:      &http.Client{Timeout: callTimeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a chat completion request, applying the retry policy and
// JSON-mode validation.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	if opts.JSONMode && !c.nativeJSON {
		messages = appendSchemaReminder(messages)
	}

	text, usage, err := c.completeOnce(ctx, messages, opts)
	if err != nil {
		return "", usage, err
	}

	if opts.JSONMode && !validJSON(text) {
		// One corrective retry with an explicit reminder before surfacing
		// a parse error.
		retryMsgs := append(append([]Message{}, messages...), appendSchemaReminder(nil)...)
		text, usage, err = c.completeOnce(ctx, retryMsgs, opts)
		if err != nil {
			return "", usage, err
		}
		if !validJSON(text) {
			return "", usage, model.NewError(model.KindProviderParse, "llm.Complete",
				fmt.Sprintf("provider %s returned non-JSON response in JSON mode", c.provider), nil)
		}
	}

	return text, usage, nil
}

func (c *HTTPClient) completeOnce(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	req := chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode && c.nativeJSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm.Complete: marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, "llm."+c.provider, func() (*chatResponse, int, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return "", Usage{}, err
	}

	if len(resp.Choices) == 0 {
		return "", resp.Usage, model.NewError(model.KindProviderParse, "llm.Complete",
			"provider returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}

// post performs one HTTP attempt and returns the parsed body plus status.
func (c *HTTPClient) post(ctx context.Context, body []byte) (*chatResponse, int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("llm.post: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, err
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, fmt.Errorf("llm.post: %s returned %d: %s",
			c.provider, httpResp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, httpResp.StatusCode, model.NewError(model.KindProviderParse, "llm.post", "decode response", err)
	}
	if parsed.Error != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("llm.post: provider error: %s", parsed.Error.Message)
	}
	return &parsed, httpResp.StatusCode, nil
}

// appendSchemaReminder adds the instruction used when native JSON mode is
// absent or the first response failed validation.
func appendSchemaReminder(messages []Message) []Message {
	return append(messages, Message{
		Role:    RoleUser,
		Content: "Respond with a single valid JSON object and nothing else. No prose, no markdown fences.",
	})
}

// validJSON reports whether text parses as a JSON object, tolerating
// surrounding markdown fences.
func validJSON(text string) bool {
	return json.Valid([]byte(StripFences(text)))
}

// StripFences removes a surrounding markdown code fence if present.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) >= 3 {
		cleaned = strings.Join(lines[1:len(lines)-1], "\n")
	}
	return strings.TrimSpace(cleaned)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
