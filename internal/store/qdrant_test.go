package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

func ranked(id, filename, page string, score float64) model.RankedChunk {
	return model.RankedChunk{
		Chunk:          model.Chunk{ID: id, Filename: filename, Page: page},
		RetrievalScore: score,
	}
}

func TestFuseRRF_SharedChunksScoreHigher(t *testing.T) {
	dense := []model.RankedChunk{
		ranked("a", "f1.pdf", "1", 0.9),
		ranked("b", "f2.pdf", "2", 0.8),
	}
	keyword := []model.RankedChunk{
		ranked("b", "f2.pdf", "2", 0.7),
		ranked("c", "f3.pdf", "3", 0.5),
	}

	fused := FuseRRF(dense, keyword)
	if len(fused) != 3 {
		t.Fatalf("fused length = %d, want 3", len(fused))
	}
	if fused[0].ID != "b" {
		t.Errorf("top fused chunk = %s, want b (appears in both lists)", fused[0].ID)
	}

	// b: 1/(60+2) + 1/(60+1); a: 1/(60+1)
	wantB := 1.0/62 + 1.0/61
	if diff := fused[0].RetrievalScore - wantB; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fused score = %v, want %v", fused[0].RetrievalScore, wantB)
	}
}

func TestSortRanked_TieBreakDeterministic(t *testing.T) {
	chunks := []model.RankedChunk{
		ranked("z", "b.pdf", "2", 0.5),
		ranked("a", "b.pdf", "1", 0.5),
		ranked("m", "a.pdf", "9", 0.5),
		ranked("q", "c.pdf", "1", 0.9),
	}
	SortRanked(chunks)

	wantOrder := []string{"q", "m", "a", "z"}
	for i, want := range wantOrder {
		if chunks[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, chunks[i].ID, want)
		}
	}
}

func TestLexicalScore(t *testing.T) {
	if s := lexicalScore("income limit", "The income limit for a family of 4"); s <= 0 {
		t.Errorf("expected positive score for matching terms, got %v", s)
	}
	if s := lexicalScore("zebra", "The income limit"); s != 0 {
		t.Errorf("expected 0 for no overlap, got %v", s)
	}
	full := lexicalScore("income limit", "income limit income limit")
	partial := lexicalScore("income zebra", "income limit")
	if full <= partial {
		t.Errorf("full match %v should outscore partial %v", full, partial)
	}
}

func TestChunkFromPayload(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"text":          qdrant.NewValueString("chunk body"),
		"filename":      qdrant.NewValueString("bcy-26-income-eligibility.pdf"),
		"page":          qdrant.NewValueInt(12),
		"source_url":    qdrant.NewValueString("https://example.org/doc.pdf"),
		"has_context":   qdrant.NewValueBool(true),
		"chunk_context": qdrant.NewValueString("table of income limits"),
	}

	c := chunkFromPayload("chunk-1", payload)
	if c.Text != "chunk body" {
		t.Errorf("Text = %q", c.Text)
	}
	if c.Page != "12" {
		t.Errorf("Page = %q, want 12 (int normalized to string)", c.Page)
	}
	if c.SourceType != model.SourceDocument {
		t.Errorf("SourceType = %q, want document", c.SourceType)
	}
	if !c.HasContext || c.ChunkContext == "" {
		t.Error("context fields not mapped")
	}
}

func TestChunkFromPayload_MissingPage(t *testing.T) {
	c := chunkFromPayload("x", map[string]*qdrant.Value{
		"text": qdrant.NewValueString("t"),
	})
	if c.Page != "N/A" {
		t.Errorf("Page = %q, want N/A", c.Page)
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	orig := retryConfig.delays
	retryConfig.delays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryConfig.delays = orig }()

	calls := 0
	result, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("rpc error: code = Unavailable desc = connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("withRetry error: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("result = %q calls = %d, want ok after 3 calls", result, calls)
	}
}

func TestWithRetry_PermanentFailsFast(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		return "", fmt.Errorf("rpc error: code = InvalidArgument desc = bad filter")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}
