package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/clearpath-ai/texcare-backend/internal/model"
	"github.com/clearpath-ai/texcare-backend/internal/store"
)

// mockEmbedder implements QueryEmbedder.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, 1536)
		vec[0] = 1.0
		out[i] = vec
	}
	return out, nil
}

// mockSearcher implements ChunkSearcher.
type mockSearcher struct {
	dense           []model.RankedChunk
	keyword         []model.RankedChunk
	denseErr        error
	keywordErr      error
	capturedK       int
	capturedMin     float64
	denseCalls      int
	keywordCalls    int
}

func (m *mockSearcher) DenseSearch(ctx context.Context, embedding []float32, k int, minScore float64, f *store.Filter) ([]model.RankedChunk, error) {
	m.denseCalls++
	m.capturedK = k
	m.capturedMin = minScore
	return m.dense, m.denseErr
}

func (m *mockSearcher) KeywordSearch(ctx context.Context, text string, k int, f *store.Filter) ([]model.RankedChunk, error) {
	m.keywordCalls++
	return m.keyword, m.keywordErr
}

func TestDenseRetriever_PassesThreshold(t *testing.T) {
	searcher := &mockSearcher{dense: []model.RankedChunk{chunkN(0, "a")}}
	r := NewDenseRetriever(&mockEmbedder{}, searcher, 0.3)

	chunks, err := r.Search(context.Background(), "income limit", 20)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if searcher.capturedK != 20 || searcher.capturedMin != 0.3 {
		t.Errorf("k=%d min=%v, want 20/0.3", searcher.capturedK, searcher.capturedMin)
	}
}

func TestDenseRetriever_EmptyQuery(t *testing.T) {
	r := NewDenseRetriever(&mockEmbedder{}, &mockSearcher{}, 0.3)
	_, err := r.Search(context.Background(), "", 20)
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", model.KindOf(err))
	}
}

func TestDenseRetriever_EmbedError(t *testing.T) {
	r := NewDenseRetriever(&mockEmbedder{err: fmt.Errorf("embed down")}, &mockSearcher{}, 0.3)
	if _, err := r.Search(context.Background(), "q", 20); err == nil {
		t.Fatal("expected error")
	}
}

func TestHybridRetriever_FusesBothLists(t *testing.T) {
	searcher := &mockSearcher{
		dense:   []model.RankedChunk{chunkN(0, "a"), chunkN(1, "b")},
		keyword: []model.RankedChunk{chunkN(1, "b"), chunkN(2, "c")},
	}
	r := NewHybridRetriever(&mockEmbedder{}, searcher)

	chunks, err := r.Search(context.Background(), "income limit", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0].ID != "c1" {
		t.Errorf("top chunk = %s, want c1 (in both lists)", chunks[0].ID)
	}
	if searcher.denseCalls != 1 || searcher.keywordCalls != 1 {
		t.Errorf("calls: dense=%d keyword=%d, want 1/1", searcher.denseCalls, searcher.keywordCalls)
	}
}

func TestHybridRetriever_CapsAtK(t *testing.T) {
	searcher := &mockSearcher{
		dense:   []model.RankedChunk{chunkN(0, "a"), chunkN(1, "b"), chunkN(2, "c")},
		keyword: []model.RankedChunk{chunkN(3, "d"), chunkN(4, "e")},
	}
	r := NewHybridRetriever(&mockEmbedder{}, searcher)

	chunks, err := r.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %d, want 2", len(chunks))
	}
}

func TestHybridRetriever_SearchError(t *testing.T) {
	searcher := &mockSearcher{keywordErr: fmt.Errorf("store down")}
	r := NewHybridRetriever(&mockEmbedder{}, searcher)
	if _, err := r.Search(context.Background(), "q", 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestKeywordRetriever_Search(t *testing.T) {
	searcher := &mockSearcher{keyword: []model.RankedChunk{chunkN(0, "income limit table")}}
	r := NewKeywordRetriever(searcher)

	chunks, err := r.Search(context.Background(), "income limit", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c0" {
		t.Errorf("chunks = %+v", chunks)
	}
	if searcher.keywordCalls != 1 || searcher.denseCalls != 0 {
		t.Errorf("calls: keyword=%d dense=%d, want lexical only", searcher.keywordCalls, searcher.denseCalls)
	}
}

func TestKeywordRetriever_EmptyQuery(t *testing.T) {
	r := NewKeywordRetriever(&mockSearcher{})
	_, err := r.Search(context.Background(), "", 10)
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", model.KindOf(err))
	}
}

func TestKeywordRetriever_SearchError(t *testing.T) {
	r := NewKeywordRetriever(&mockSearcher{keywordErr: fmt.Errorf("store down")})
	if _, err := r.Search(context.Background(), "q", 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestForMode_KeywordAblation(t *testing.T) {
	// The evaluation harness wires Keyword; the server never does.
	set := &RetrieverSet{
		Dense:   NewDenseRetriever(&mockEmbedder{}, &mockSearcher{}, 0.3),
		Keyword: NewKeywordRetriever(&mockSearcher{}),
	}
	if _, err := set.ForMode(RetrievalKeyword); err != nil {
		t.Errorf("ForMode(keyword) error with ablation wiring: %v", err)
	}

	serverSet := &RetrieverSet{
		Dense: NewDenseRetriever(&mockEmbedder{}, &mockSearcher{}, 0.3),
	}
	_, err := serverSet.ForMode(RetrievalKeyword)
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("ForMode(keyword) kind = %v without ablation wiring, want invalid_argument", model.KindOf(err))
	}
}

func TestForMode(t *testing.T) {
	set := &RetrieverSet{
		Dense:  NewDenseRetriever(&mockEmbedder{}, &mockSearcher{}, 0.3),
		Hybrid: NewHybridRetriever(&mockEmbedder{}, &mockSearcher{}),
	}

	if _, err := set.ForMode("dense"); err != nil {
		t.Errorf("ForMode(dense) error: %v", err)
	}
	if _, err := set.ForMode("hybrid"); err != nil {
		t.Errorf("ForMode(hybrid) error: %v", err)
	}

	_, err := set.ForMode("sparse")
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("ForMode(sparse) kind = %v, want invalid_argument", model.KindOf(err))
	}

	// managed is a valid mode name but has no backend configured here
	_, err = set.ForMode("managed")
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("ForMode(managed) kind = %v, want invalid_argument", model.KindOf(err))
	}
}
