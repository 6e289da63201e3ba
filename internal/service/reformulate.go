package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const reformulateTemperature = 0.3

const reformulateSystemPrompt = `You rewrite follow-up questions about Texas childcare assistance into standalone queries.

Given the conversation history and the latest user question, produce a single self-contained query:
- Resolve pronouns and references ("it", "that program") to the entities they refer to.
- Expand implicit comparisons ("what about a family of 4?") using the prior topic.
- Carry forward parameters the user stated earlier (family size, income, number of children) when they matter for the question.
- If the question is clearly unrelated to the conversation, return it unchanged.

Return the rewritten query inside <reformulated_query> tags:
<reformulated_query>the standalone query</reformulated_query>`

var reformulatedPattern = regexp.MustCompile(`(?s)<reformulated_query>\s*(.*?)\s*</reformulated_query>`)

// Reformulator rewrites context-dependent queries into standalone ones
// using the conversation history.
type Reformulator struct {
	client llm.Client
	model  string
}

// NewReformulator creates a Reformulator.
func NewReformulator(client llm.Client, reformulateModel string) *Reformulator {
	return &Reformulator{client: client, model: reformulateModel}
}

// Reformulate returns a standalone form of query. With one message or less
// of history there is nothing to resolve and the query passes through; on
// any model or extraction failure the original query is returned.
func (r *Reformulator) Reformulate(ctx context.Context, query string, history []model.Message) (string, error) {
	if len(history) <= 1 {
		return query, nil
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	sb.WriteString("\nLatest question: ")
	sb.WriteString(query)

	raw, _, err := r.client.Complete(ctx, []llm.Message{
		llm.System(reformulateSystemPrompt),
		llm.User(sb.String()),
	}, llm.Options{
		Model:       r.model,
		Temperature: reformulateTemperature,
		MaxTokens:   256,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("reformulation failed, using original query", "error", err)
		return query, nil
	}

	m := reformulatedPattern.FindStringSubmatch(raw)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		slog.Warn("reformulation tag missing, using original query", "raw_len", len(raw))
		return query, nil
	}
	reformulated := strings.TrimSpace(m[1])

	slog.Info("query reformulated", "original", query, "reformulated", reformulated)
	return reformulated, nil
}
