package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clearpath-ai/texcare-backend/internal/config"
	"github.com/clearpath-ai/texcare-backend/internal/model"
	"github.com/clearpath-ai/texcare-backend/internal/store"
)

// Retriever is the strategy interface shared by all candidate generators.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error)
}

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSearcher abstracts the chunk store for testability.
type ChunkSearcher interface {
	DenseSearch(ctx context.Context, embedding []float32, k int, minScore float64, f *store.Filter) ([]model.RankedChunk, error)
	KeywordSearch(ctx context.Context, text string, k int, f *store.Filter) ([]model.RankedChunk, error)
}

// DenseRetriever embeds the query and searches by cosine similarity.
// Candidates below the similarity threshold are dropped.
type DenseRetriever struct {
	embedder  QueryEmbedder
	searcher  ChunkSearcher
	threshold float64
}

// NewDenseRetriever creates a DenseRetriever.
func NewDenseRetriever(embedder QueryEmbedder, searcher ChunkSearcher, threshold float64) *DenseRetriever {
	return &DenseRetriever{embedder: embedder, searcher: searcher, threshold: threshold}
}

func (r *DenseRetriever) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	if query == "" {
		return nil, model.NewError(model.KindInvalidArgument, "service.DenseRetriever", "query is empty", nil)
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("service.DenseRetriever: embed: %w", err)
	}

	chunks, err := r.searcher.DenseSearch(ctx, vecs[0], k, r.threshold, nil)
	if err != nil {
		return nil, fmt.Errorf("service.DenseRetriever: search: %w", err)
	}

	slog.Info("dense retrieval done", "query_len", len(query), "candidates", len(chunks), "threshold", r.threshold)
	return chunks, nil
}

// HybridRetriever runs dense and keyword search concurrently and fuses
// the lists with Reciprocal Rank Fusion. The fused score is a rank metric,
// not a similarity, so no lower bound applies after fusion.
type HybridRetriever struct {
	embedder QueryEmbedder
	searcher ChunkSearcher
}

// NewHybridRetriever creates a HybridRetriever.
func NewHybridRetriever(embedder QueryEmbedder, searcher ChunkSearcher) *HybridRetriever {
	return &HybridRetriever{embedder: embedder, searcher: searcher}
}

func (r *HybridRetriever) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	if query == "" {
		return nil, model.NewError(model.KindInvalidArgument, "service.HybridRetriever", "query is empty", nil)
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("service.HybridRetriever: embed: %w", err)
	}

	var dense, keyword []model.RankedChunk
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = r.searcher.DenseSearch(gCtx, vecs[0], k, 0, nil)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = r.searcher.KeywordSearch(gCtx, query, k, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.HybridRetriever: search: %w", err)
	}

	fused := store.FuseRRF(dense, keyword)
	if len(fused) > k {
		fused = fused[:k]
	}

	slog.Info("hybrid retrieval done",
		"dense_candidates", len(dense),
		"keyword_candidates", len(keyword),
		"fused", len(fused),
	)
	return fused, nil
}

// KeywordRetriever is lexical-only retrieval, used in ablation runs.
type KeywordRetriever struct {
	searcher ChunkSearcher
}

// NewKeywordRetriever creates a KeywordRetriever.
func NewKeywordRetriever(searcher ChunkSearcher) *KeywordRetriever {
	return &KeywordRetriever{searcher: searcher}
}

func (r *KeywordRetriever) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	if query == "" {
		return nil, model.NewError(model.KindInvalidArgument, "service.KeywordRetriever", "query is empty", nil)
	}
	chunks, err := r.searcher.KeywordSearch(ctx, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("service.KeywordRetriever: %w", err)
	}
	return chunks, nil
}

// WebSearcher abstracts the external search API for testability.
type WebSearcher interface {
	Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error)
}

// WebRetriever returns synthetic chunks from the external search API.
type WebRetriever struct {
	client WebSearcher
}

// NewWebRetriever creates a WebRetriever.
func NewWebRetriever(client WebSearcher) *WebRetriever {
	return &WebRetriever{client: client}
}

func (r *WebRetriever) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	chunks, err := r.client.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("service.WebRetriever: %w", err)
	}
	return chunks, nil
}

// ManagedSearcher abstracts a managed search service (server-side retrieval
// with its own ranking). Documents map onto the chunk schema; the LLM
// reranker still runs downstream so pipelines stay comparable.
type ManagedSearcher interface {
	Query(ctx context.Context, query string, k int) ([]model.RankedChunk, error)
}

// ManagedRetriever adapts a ManagedSearcher to the Retriever interface.
type ManagedRetriever struct {
	searcher ManagedSearcher
}

// NewManagedRetriever creates a ManagedRetriever.
func NewManagedRetriever(searcher ManagedSearcher) *ManagedRetriever {
	return &ManagedRetriever{searcher: searcher}
}

func (r *ManagedRetriever) Search(ctx context.Context, query string, k int) ([]model.RankedChunk, error) {
	chunks, err := r.searcher.Query(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("service.ManagedRetriever: %w", err)
	}
	return chunks, nil
}

// RetrievalKeyword is the ablation-only mode: the evaluation harness wires
// a keyword retriever to measure lexical-only quality. It is not part of
// the request enum, and the server never configures it, so API requests
// asking for it fail like any other unconfigured mode.
const RetrievalKeyword = "keyword"

// RetrieverSet holds the configured strategies and resolves the per-request
// retrieval mode.
type RetrieverSet struct {
	Dense   Retriever
	Hybrid  Retriever
	Managed Retriever
	Keyword Retriever // ablation runs only; nil everywhere else
}

// ForMode returns the retriever for a retrieval mode. Unknown modes and
// modes without a configured backend fail with InvalidArgument.
func (s *RetrieverSet) ForMode(mode string) (Retriever, error) {
	switch mode {
	case config.RetrievalDense:
		if s.Dense != nil {
			return s.Dense, nil
		}
	case config.RetrievalHybrid:
		if s.Hybrid != nil {
			return s.Hybrid, nil
		}
	case config.RetrievalManaged:
		if s.Managed != nil {
			return s.Managed, nil
		}
	case RetrievalKeyword:
		if s.Keyword != nil {
			return s.Keyword, nil
		}
	default:
		return nil, model.NewError(model.KindInvalidArgument, "service.ForMode",
			fmt.Sprintf("unknown retrieval mode %q", mode), nil)
	}
	return nil, model.NewError(model.KindInvalidArgument, "service.ForMode",
		fmt.Sprintf("retrieval mode %q is not configured", mode), nil)
}
