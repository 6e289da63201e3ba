package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

func eligibilityChunks() []model.RankedChunk {
	return []model.RankedChunk{
		{
			Chunk: model.Chunk{
				ID: "c1", Text: "BCY 2026 income limits: family of 4, $92,041 annually.",
				Filename: "bcy-26-income-eligibility.pdf", Page: "3",
				SourceURL: "https://example.org/bcy26.pdf",
			},
			RerankScore: 0.9,
		},
		{
			Chunk: model.Chunk{
				ID: "c2", Text: "CCS applications are submitted through the LWDB.",
				Filename: "ccs-handbook.pdf", Page: "12",
			},
			RerankScore: 0.7,
		},
	}
}

func TestGenerate_CitedSources(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"The annual income limit for a family of 4 is $92,041 [Doc 1].",
	}}
	svc := NewGeneratorService(client, "gen-model")

	res, err := svc.Generate(context.Background(), "income limit family of 4", eligibilityChunks(), "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %d, want 1 (only cited docs)", len(res.Sources))
	}
	s := res.Sources[0]
	if s.Doc != 1 || s.Filename != "bcy-26-income-eligibility.pdf" || s.Page != "3" {
		t.Errorf("source = %+v", s)
	}
	if s.URL != "https://example.org/bcy26.pdf" {
		t.Errorf("source url = %q", s.URL)
	}
}

func TestGenerate_EmptyChunksReturnsFallback(t *testing.T) {
	client := &fakeLLM{responses: []string{"should not be called"}}
	svc := NewGeneratorService(client, "gen-model")

	res, err := svc.Generate(context.Background(), "daycare capacity in Antarctica", nil, "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Answer != FallbackAnswer {
		t.Errorf("answer = %q, want fallback", res.Answer)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(res.Sources))
	}
	if client.calls != 0 {
		t.Errorf("LLM called %d times for empty retrieval, want 0", client.calls)
	}
}

func TestGenerate_ProviderFailureReturnsFallback(t *testing.T) {
	client := &fakeLLM{err: fmt.Errorf("provider down")}
	svc := NewGeneratorService(client, "gen-model")

	res, err := svc.Generate(context.Background(), "q", eligibilityChunks(), "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Answer != FallbackAnswer || len(res.Sources) != 0 {
		t.Errorf("expected fallback answer with no sources, got %q / %d sources", res.Answer, len(res.Sources))
	}
}

func TestGenerate_PromptExcludesEnrichments(t *testing.T) {
	client := &fakeLLM{responses: []string{"answer [Doc 1]"}}
	svc := NewGeneratorService(client, "gen-model")

	chunks := []model.RankedChunk{{
		Chunk: model.Chunk{
			ID: "c1", Text: "visible text", Filename: "f.pdf", Page: "1",
			HasContext:      true,
			MasterContext:   "MASTER-ENRICHMENT",
			DocumentContext: "DOC-ENRICHMENT",
			ChunkContext:    "CHUNK-ENRICHMENT",
		},
	}}
	if _, err := svc.Generate(context.Background(), "q", chunks, ""); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "[Doc 1: f.pdf, Page 1]\nvisible text") {
		t.Errorf("chunk header format wrong:\n%s", prompt)
	}
	for _, enrichment := range []string{"MASTER-ENRICHMENT", "DOC-ENRICHMENT", "CHUNK-ENRICHMENT"} {
		if strings.Contains(prompt, enrichment) {
			t.Errorf("enrichment %q leaked into the prompt", enrichment)
		}
	}
}

func TestGenerate_ConversationContextInPrompt(t *testing.T) {
	client := &fakeLLM{responses: []string{"answer [Doc 1]"}}
	svc := NewGeneratorService(client, "gen-model")

	svc.Generate(context.Background(), "q", eligibilityChunks(), "user previously asked about CCS")
	if !strings.Contains(client.prompts[0], "user previously asked about CCS") {
		t.Error("conversation context missing from prompt")
	}
}

func TestExtractCitedSources(t *testing.T) {
	chunks := eligibilityChunks()

	cases := []struct {
		name    string
		answer  string
		wantDoc []int
	}{
		{"single", "x [Doc 1] y", []int{1}},
		{"both ordered", "x [Doc 2] y [Doc 1]", []int{1, 2}},
		{"duplicate collapsed", "[Doc 1] and again [Doc 1]", []int{1}},
		{"out of range dropped", "[Doc 3] and [Doc 0] and [Doc 2]", []int{2}},
		{"none", "no citations here", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sources := ExtractCitedSources(tc.answer, chunks)
			if len(sources) != len(tc.wantDoc) {
				t.Fatalf("len = %d, want %d", len(sources), len(tc.wantDoc))
			}
			for i, want := range tc.wantDoc {
				if sources[i].Doc != want {
					t.Errorf("sources[%d].Doc = %d, want %d", i, sources[i].Doc, want)
				}
			}
		})
	}
}
