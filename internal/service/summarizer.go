package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const (
	// summarizeAfterTurns triggers compression once history exceeds this
	// many turns (a turn is a user+assistant pair).
	summarizeAfterTurns = 5
	// summarizeCharBudget triggers compression on raw history size even
	// below the turn limit.
	summarizeCharBudget = 4000
)

// Summarizer compresses conversation history into a short context block for
// downstream prompts. Summaries are derived on demand and never persisted.
type Summarizer struct {
	client llm.Client
	model  string
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(client llm.Client, summarizeModel string) *Summarizer {
	return &Summarizer{client: client, model: summarizeModel}
}

// ConversationContext returns what downstream prompts should consume:
// raw transcript for short conversations, an LLM summary past the turn or
// size budget. On summarization failure the raw tail of the history is
// returned rather than failing the turn.
func (s *Summarizer) ConversationContext(ctx context.Context, history []model.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}

	transcript := formatTranscript(history)
	if len(history) <= 2*summarizeAfterTurns && len(transcript) <= summarizeCharBudget {
		return transcript, nil
	}

	summary, _, err := s.client.Complete(ctx, []llm.Message{
		llm.System("Summarize this conversation about Texas childcare assistance in at most 150 tokens. " +
			"Keep the key entities (programs, family size, income figures), decisions made, and open questions."),
		llm.User(transcript),
	}, llm.Options{
		Model:       s.model,
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("history summarization failed, using raw tail", "error", err)
		tail := history
		if len(tail) > 2*summarizeAfterTurns {
			tail = tail[len(tail)-2*summarizeAfterTurns:]
		}
		return formatTranscript(tail), nil
	}

	return strings.TrimSpace(summary), nil
}

func formatTranscript(history []model.Message) string {
	var sb strings.Builder
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}
