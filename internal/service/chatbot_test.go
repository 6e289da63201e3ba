package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/config"
	"github.com/clearpath-ai/texcare-backend/internal/memory"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		LLMProvider:         config.ProviderFast,
		RerankerProvider:    config.ProviderFast,
		IntentProvider:      config.ProviderFast,
		ReformulateProvider: config.ProviderFast,
		RetrievalMode:       config.RetrievalDense,
		RetrievalTopK:       20,
		RerankTopK:          5,
		MaxHistoryTurns:     5,
		WebFallbackMinChunks: 3,
		WebFallbackMinScore:  0.7,
		WebSearchTopK:        3,
	}
}

func newPipelineBot(t *testing.T, llmClient *fakeLLM, vector Retriever, mem memory.Store) *Chatbot {
	t.Helper()
	cfg := testConfig()
	providers := &ProviderClients{Fast: llmClient}
	set := &RetrieverSet{Dense: vector, Hybrid: vector}
	return NewChatbot(cfg, providers, set, nil, mem)
}

func TestAnswer_InformationPath(t *testing.T) {
	// Call order: classify → rerank → generate.
	llmClient := &fakeLLM{responses: []string{
		`{"intent": "information"}`,
		`{"chunk_0": 9, "chunk_1": 4}`,
		"The annual limit is $92,041 [Doc 1].",
	}}
	vector := &stubRetriever{chunks: []model.RankedChunk{
		chunkN(0, "BCY 2026 limits: family of 4, $92,041"),
		chunkN(1, "unrelated"),
	}}

	bot := newPipelineBot(t, llmClient, vector, nil)
	res, err := bot.Answer(context.Background(), "income limit for a family of 4?", AskOptions{})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.ResponseType != "information" {
		t.Errorf("ResponseType = %q, want information", res.ResponseType)
	}
	if !strings.Contains(res.Answer, "$92,041") {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0].Doc != 1 {
		t.Errorf("sources = %+v", res.Sources)
	}
	if res.Conversational || res.TurnCount != 0 {
		t.Error("stateless request reported conversational fields")
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	bot := newPipelineBot(t, &fakeLLM{}, &stubRetriever{}, nil)
	_, err := bot.Answer(context.Background(), "   ", AskOptions{})
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", model.KindOf(err))
	}
}

func TestAnswer_InvalidRetrievalMode(t *testing.T) {
	bot := newPipelineBot(t, &fakeLLM{}, &stubRetriever{}, nil)
	_, err := bot.Answer(context.Background(), "q", AskOptions{RetrievalMode: "quantum"})
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", model.KindOf(err))
	}
}

func TestAnswer_LocationPath(t *testing.T) {
	llmClient := &fakeLLM{responses: []string{`{"intent": "location_search"}`}}
	vector := &stubRetriever{}

	bot := newPipelineBot(t, llmClient, vector, nil)
	res, err := bot.Answer(context.Background(), "where can I find daycare near Austin?", AskOptions{})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.ResponseType != "location_search" {
		t.Errorf("ResponseType = %q", res.ResponseType)
	}
	if !strings.Contains(res.Answer, "Austin") {
		t.Errorf("answer should echo the place: %q", res.Answer)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(res.Sources))
	}
	if vector.calls != 0 {
		t.Errorf("retriever called %d times on location path", vector.calls)
	}
}

func TestAnswer_EmptyRetrievalFallback(t *testing.T) {
	llmClient := &fakeLLM{responses: []string{
		`{"intent": "information"}`,
		// reranker is not called for zero chunks; next call is generation,
		// which is also skipped — fallback short-circuits.
	}}
	vector := &stubRetriever{chunks: nil}

	bot := newPipelineBot(t, llmClient, vector, nil)
	res, err := bot.Answer(context.Background(), "daycare capacity in Antarctica?", AskOptions{})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.Answer != FallbackAnswer {
		t.Errorf("answer = %q, want fallback", res.Answer)
	}
	if res.ResponseType != "information" {
		t.Errorf("ResponseType = %q, want information", res.ResponseType)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(res.Sources))
	}
}

func TestAnswer_ConversationalTurns(t *testing.T) {
	mem := memory.NewInProcess(30 * time.Minute)
	defer mem.Close()

	// Turn 1: no reformulation (empty history), classify, rerank, generate.
	turn1 := &fakeLLM{responses: []string{
		`{"intent": "information"}`,
		`{"chunk_0": 9}`,
		"CCS is Child Care Services [Doc 1].",
	}}
	vector := &stubRetriever{chunks: []model.RankedChunk{chunkN(0, "CCS overview")}}

	bot := newPipelineBot(t, turn1, vector, mem)
	res1, err := bot.Answer(context.Background(), "What is CCS?", AskOptions{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("turn 1 error: %v", err)
	}
	if res1.TurnCount != 1 {
		t.Errorf("turn 1 TurnCount = %d, want 1", res1.TurnCount)
	}

	msgs, _ := mem.Recent(context.Background(), "t1", 10)
	if len(msgs) != 2 {
		t.Fatalf("messages after turn 1 = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("message order wrong: %+v", msgs)
	}
	if msgs[1].Content != res1.Answer {
		t.Error("stored assistant message differs from returned answer")
	}

	// Turn 2: reformulate resolves the pronoun, then the usual path.
	turn2 := &fakeLLM{responses: []string{
		"<reformulated_query>How do I apply for CCS?</reformulated_query>",
		`{"intent": "information"}`,
		`{"chunk_0": 8}`,
		"To apply for CCS: 1. Contact your LWDB [Doc 1].",
	}}
	bot2 := newPipelineBot(t, turn2, vector, mem)
	res2, err := bot2.Answer(context.Background(), "How do I apply for it?", AskOptions{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("turn 2 error: %v", err)
	}
	if !strings.Contains(res2.ReformulatedQuery, "CCS") {
		t.Errorf("ReformulatedQuery = %q, want CCS resolved", res2.ReformulatedQuery)
	}
	if res2.TurnCount != 2 {
		t.Errorf("turn 2 TurnCount = %d, want 2", res2.TurnCount)
	}
}

func TestAnswer_WebFallbackResponseType(t *testing.T) {
	cfg := testConfig()
	// information intent → hybrid branch (web retriever configured);
	// 1 low-scored chunk → insufficient → web merge → joint rerank → generate.
	llmClient := &fakeLLM{responses: []string{
		`{"intent": "information"}`,
		`{"chunk_0": 2}`,
		`{"chunk_0": 2, "chunk_1": 9}`,
		// After the joint rerank the web chunk is Doc 1.
		"New rules summary [Doc 1].",
	}}
	vector := &stubRetriever{chunks: []model.RankedChunk{chunkN(0, "old policy")}}
	web := &stubRetriever{chunks: []model.RankedChunk{{
		Chunk: model.Chunk{ID: "web-0", Text: "news text", Filename: "TWC news", Page: "web",
			SourceURL: "https://news.example.org", SourceType: model.SourceWeb},
	}}}

	providers := &ProviderClients{Fast: llmClient}
	set := &RetrieverSet{Dense: vector, Hybrid: vector}
	bot := NewChatbot(cfg, providers, set, web, nil)

	res, err := bot.Answer(context.Background(), "what new rules took effect this month?", AskOptions{})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if res.ResponseType != "web_fallback" {
		t.Errorf("ResponseType = %q, want web_fallback", res.ResponseType)
	}
	found := false
	for _, s := range res.Sources {
		if s.Page == "web" && s.URL != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("no web source in %+v", res.Sources)
	}
}

func TestAnswer_DebugRecords(t *testing.T) {
	llmClient := &fakeLLM{responses: []string{
		`{"intent": "information"}`,
		`{"chunk_0": 9}`,
		"answer [Doc 1]",
	}}
	vector := &stubRetriever{chunks: []model.RankedChunk{chunkN(0, "text")}}

	bot := newPipelineBot(t, llmClient, vector, nil)
	res, err := bot.Answer(context.Background(), "q", AskOptions{Debug: true})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	for _, node := range []string{"node:classify", "node:retrieve", "node:rerank", "node:generate"} {
		if _, ok := res.DebugInfo[node]; !ok {
			t.Errorf("missing debug record %s", node)
		}
	}
}

func TestAnswer_ModelOverrideUnknownProvider(t *testing.T) {
	bot := newPipelineBot(t, &fakeLLM{}, &stubRetriever{}, nil)
	_, err := bot.Answer(context.Background(), "q", AskOptions{
		Models: &ModelOverrides{Provider: "mystery"},
	})
	if !model.IsKind(err, model.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", model.KindOf(err))
	}
}
