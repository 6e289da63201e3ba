package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const (
	// rerankSnippetCap keeps batched prompts within any provider's window.
	rerankSnippetCap = 300
	// rerankTemperature keeps judge scores stable across calls.
	rerankTemperature = 0.1
)

// RerankerService scores candidate chunks with an LLM judge and keeps the
// top n. A judge failure falls back to retrieval order; the pipeline is
// never blocked on the reranker.
type RerankerService struct {
	client llm.Client
	model  string
}

// NewRerankerService creates a RerankerService.
func NewRerankerService(client llm.Client, rerankModel string) *RerankerService {
	return &RerankerService{client: client, model: rerankModel}
}

// Rerank scores chunks [0..10] in one batched prompt, normalizes to [0,1],
// and returns the top n by rerank score. conversationSummary may be empty;
// when present the judge considers it for disambiguation.
// usedFallback reports that the judge call failed or its response could not
// be parsed, and the retrieval order was kept (with rerank scores set from
// the normalized retrieval rank).
func (s *RerankerService) Rerank(ctx context.Context, query string, chunks []model.RankedChunk, n int, conversationSummary string) (ranked []model.RankedChunk, usedFallback bool, err error) {
	if len(chunks) == 0 {
		return nil, false, nil
	}
	if n > len(chunks) {
		n = len(chunks)
	}

	prompt := buildRerankPrompt(query, chunks, conversationSummary)

	raw, _, err := s.client.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Options{
		Model:       s.model,
		Temperature: rerankTemperature,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		slog.Warn("reranker judge failed, keeping retrieval order", "error", err)
		return identityRerank(chunks, n), true, nil
	}

	scores, parseErr := parseRerankScores(raw, len(chunks))
	if parseErr != nil {
		slog.Warn("reranker response unparseable, keeping retrieval order", "error", parseErr)
		return identityRerank(chunks, n), true, nil
	}

	scored := make([]model.RankedChunk, len(chunks))
	for i, c := range chunks {
		c.RerankScore = scores[i]
		scored[i] = c
	}

	// Stable sort preserves retrieval order among ties.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	slog.Info("reranker scored candidates",
		"candidates", len(chunks),
		"kept", n,
		"top_score", scored[0].RerankScore,
	)
	return scored[:n], false, nil
}

// buildRerankPrompt numbers chunks CHUNK 0..m-1 and asks for a JSON object
// mapping "chunk_i" to an integer score 0..10.
func buildRerankPrompt(query string, chunks []model.RankedChunk, conversationSummary string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance judge for a Texas childcare assistance question-answering system.\n")
	if conversationSummary != "" {
		sb.WriteString("\nConversation so far (use to disambiguate the query):\n")
		sb.WriteString(conversationSummary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuery: ")
	sb.WriteString(query)
	sb.WriteString("\n\nScore how relevant each chunk is to the query, 0 (irrelevant) to 10 (directly answers it).\n\n")

	for i, c := range chunks {
		text := c.Text
		if len(text) > rerankSnippetCap {
			text = text[:rerankSnippetCap] + "..."
		}
		fmt.Fprintf(&sb, "CHUNK %d: %s\n\n", i, text)
	}

	sb.WriteString(`Return ONLY a JSON object mapping chunk keys to integer scores, for example:
{"chunk_0": 8, "chunk_1": 2}
Include every chunk exactly once.`)

	return sb.String()
}

// parseRerankScores maps the judge JSON onto per-chunk scores in [0,1].
// Missing keys score 0; keys outside the chunk range are ignored.
func parseRerankScores(raw string, numChunks int) ([]float64, error) {
	var parsed map[string]json.Number
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("service.parseRerankScores: %w", err)
	}

	scores := make([]float64, numChunks)
	for key, num := range parsed {
		var idx int
		if _, err := fmt.Sscanf(key, "chunk_%d", &idx); err != nil {
			continue
		}
		if idx < 0 || idx >= numChunks {
			continue
		}
		v, err := num.Float64()
		if err != nil {
			continue
		}
		if v < 0 {
			v = 0
		}
		if v > 10 {
			v = 10
		}
		scores[idx] = v / 10
	}
	return scores, nil
}

// identityRerank keeps retrieval order and synthesizes a descending rerank
// score from rank position so downstream ordering invariants still hold.
func identityRerank(chunks []model.RankedChunk, n int) []model.RankedChunk {
	if n > len(chunks) {
		n = len(chunks)
	}
	out := make([]model.RankedChunk, n)
	for i := 0; i < n; i++ {
		c := chunks[i]
		c.RerankScore = float64(len(chunks)-i) / float64(len(chunks))
		out[i] = c
	}
	return out
}
