package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const classifyTemperature = 0.1

const intentSystemPrompt = `Classify a user query about Texas childcare assistance into exactly one intent:

- "location_search": the user asks WHERE to find childcare facilities or providers near a place (city, zip code, neighborhood).
- "information": everything else — policy, eligibility, rates, procedures, programs.

Respond with JSON: {"intent": "information"} or {"intent": "location_search"}.`

// IntentClassifier routes queries to the information or location path.
// The web_fallback intent is decided downstream by the hybrid handler, not
// here.
type IntentClassifier struct {
	client llm.Client
	model  string
}

// NewIntentClassifier creates an IntentClassifier.
func NewIntentClassifier(client llm.Client, intentModel string) *IntentClassifier {
	return &IntentClassifier{client: client, model: intentModel}
}

// Classify returns the query intent, defaulting to information when the
// model response cannot be parsed.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (model.Intent, error) {
	raw, _, err := c.client.Complete(ctx, []llm.Message{
		llm.System(intentSystemPrompt),
		llm.User(query),
	}, llm.Options{
		Model:       c.model,
		Temperature: classifyTemperature,
		MaxTokens:   64,
		JSONMode:    true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("intent classification failed, defaulting to information", "error", err)
		return model.IntentInformation, nil
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		slog.Warn("intent response unparseable, defaulting to information", "raw", raw)
		return model.IntentInformation, nil
	}

	switch strings.TrimSpace(strings.ToLower(parsed.Intent)) {
	case string(model.IntentLocationSearch):
		return model.IntentLocationSearch, nil
	default:
		return model.IntentInformation, nil
	}
}
