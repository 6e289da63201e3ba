package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// SufficiencyRule gates the web fallback: when vector retrieval already
// produced MinChunks chunks with a rerank score above MinScore, the web
// call is skipped. Operators tune the thresholds via config.
type SufficiencyRule struct {
	MinChunks int
	MinScore  float64
}

// Sufficient reports whether reranked vector results make a web call
// unnecessary.
func (r SufficiencyRule) Sufficient(reranked []model.RankedChunk) bool {
	if len(reranked) < r.MinChunks {
		return false
	}
	for _, c := range reranked {
		if c.RerankScore > r.MinScore {
			return true
		}
	}
	return false
}

// WebFallbackHandler answers queries the corpus may not cover: vector
// retrieval first, supplemented with live web search only when the
// sufficiency rule fails.
type WebFallbackHandler struct {
	vector    Retriever
	web       Retriever
	reranker  *RerankerService
	generator *GeneratorService
	rule      SufficiencyRule

	retrievalTopK int
	rerankTopK    int
	webTopK       int
}

// NewWebFallbackHandler creates a WebFallbackHandler.
func NewWebFallbackHandler(vector, web Retriever, reranker *RerankerService, generator *GeneratorService,
	rule SufficiencyRule, retrievalTopK, rerankTopK, webTopK int) *WebFallbackHandler {
	return &WebFallbackHandler{
		vector:        vector,
		web:           web,
		reranker:      reranker,
		generator:     generator,
		rule:          rule,
		retrievalTopK: retrievalTopK,
		rerankTopK:    rerankTopK,
		webTopK:       webTopK,
	}
}

// WebFallbackResult carries the handler output plus what the debug record
// needs.
type WebFallbackResult struct {
	Answer  string
	Sources []model.CitedSource
	Retrieved []model.RankedChunk
	Reranked  []model.RankedChunk
	UsedWeb   bool
}

// Handle runs the fallback flow. conversationContext may be empty.
func (h *WebFallbackHandler) Handle(ctx context.Context, query, conversationContext string) (*WebFallbackResult, error) {
	retrieved, err := h.vector.Search(ctx, query, h.retrievalTopK)
	if err != nil {
		return nil, fmt.Errorf("service.WebFallback: retrieve: %w", err)
	}

	reranked, _, err := h.reranker.Rerank(ctx, query, retrieved, h.rerankTopK, conversationContext)
	if err != nil {
		return nil, fmt.Errorf("service.WebFallback: rerank: %w", err)
	}

	usedWeb := false
	if !h.rule.Sufficient(reranked) {
		webChunks, err := h.web.Search(ctx, query, h.webTopK)
		if err != nil {
			// Web search is supplemental; degrade to the vector results.
			slog.Warn("web search failed, answering from vector results only", "error", err)
		} else if len(webChunks) > 0 {
			usedWeb = true
			merged := append(append([]model.RankedChunk{}, retrieved...), webChunks...)
			reranked, _, err = h.reranker.Rerank(ctx, query, merged, h.rerankTopK, conversationContext)
			if err != nil {
				return nil, fmt.Errorf("service.WebFallback: joint rerank: %w", err)
			}
			retrieved = merged
		}
	} else {
		slog.Info("vector retrieval sufficient, skipping web search",
			"chunks", len(reranked), "min_chunks", h.rule.MinChunks, "min_score", h.rule.MinScore)
	}

	gen, err := h.generator.Generate(ctx, query, reranked, conversationContext)
	if err != nil {
		return nil, fmt.Errorf("service.WebFallback: generate: %w", err)
	}

	return &WebFallbackResult{
		Answer:    gen.Answer,
		Sources:   gen.Sources,
		Retrieved: retrieved,
		Reranked:  reranked,
		UsedWeb:   usedWeb,
	}, nil
}
