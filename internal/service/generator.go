package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const generateTemperature = 0.1

// FallbackAnswer is returned when retrieval comes back empty or generation
// fails after retries. It is the same answer on both paths.
const FallbackAnswer = "I couldn't find information about that in the Texas childcare assistance documents I have access to. " +
	"For help with your specific situation, contact Texas Workforce Commission child care services at 1-800-862-5252 " +
	"or visit https://www.twc.texas.gov/programs/child-care."

// generatorSystemPrompt establishes the domain and the citation contract.
// The rules here are contractual: the answer invariants in the handler and
// evaluation depend on them.
const generatorSystemPrompt = `You are an assistant answering questions about Texas childcare assistance programs, using only the provided policy document excerpts.

ABBREVIATIONS:
- CCS: Child Care Services (the Texas childcare subsidy program)
- SMI: State Median Income
- BCY: Board Contract Year
- TWC: Texas Workforce Commission
- PSoC: Parent Share of Cost
- TRS: Texas Rising Star (provider quality rating)
- LWDB: Local Workforce Development Board

RULES:
- Answer ONLY from the provided documents. If the documents do not contain the information, say so explicitly.
- Every factual claim with a specific amount, date, or program name must cite at least one source as [Doc N].
- Never invent numbers, dates, or rules.
- For application or enrollment processes, give ordered numbered steps.
- For tabular data (income limits, parent share of cost, rates), state the row label AND the column explicitly (for example "Family of 3, 45% SMI") so positional lookups are unambiguous.
- Cite only documents from the provided set.`

// GeneratorService produces cited answers from reranked chunks.
type GeneratorService struct {
	client llm.Client
	model  string
}

// NewGeneratorService creates a GeneratorService.
func NewGeneratorService(client llm.Client, generateModel string) *GeneratorService {
	return &GeneratorService{client: client, model: generateModel}
}

// GenerationResult is the generator output.
type GenerationResult struct {
	Answer  string
	Sources []model.CitedSource
	Usage   llm.Usage
}

// Generate builds the cited answer. conversationContext may be empty; in
// conversational mode it carries the compressed history and an instruction
// to stay consistent with prior answers.
func (s *GeneratorService) Generate(ctx context.Context, query string, chunks []model.RankedChunk, conversationContext string) (*GenerationResult, error) {
	if query == "" {
		return nil, model.NewError(model.KindInvalidArgument, "service.Generate", "query is empty", nil)
	}
	if len(chunks) == 0 {
		return &GenerationResult{Answer: FallbackAnswer, Sources: []model.CitedSource{}}, nil
	}

	userPrompt := buildGeneratePrompt(query, chunks, conversationContext)

	answer, usage, err := s.client.Complete(ctx, []llm.Message{
		llm.System(generatorSystemPrompt),
		llm.User(userPrompt),
	}, llm.Options{
		Model:       s.model,
		Temperature: generateTemperature,
		MaxTokens:   2048,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("generation failed after retries, returning fallback", "error", err)
		return &GenerationResult{Answer: FallbackAnswer, Sources: []model.CitedSource{}}, nil
	}

	sources := ExtractCitedSources(answer, chunks)
	slog.Info("answer generated",
		"chunks", len(chunks),
		"cited", len(sources),
		"answer_len", len(answer),
		"tokens", usage.TotalTokens,
	)

	return &GenerationResult{Answer: answer, Sources: sources, Usage: usage}, nil
}

// buildGeneratePrompt formats each chunk under a citation header. Only the
// stored text is rendered; contextual enrichments never reach the prompt.
func buildGeneratePrompt(query string, chunks []model.RankedChunk, conversationContext string) string {
	var sb strings.Builder

	if conversationContext != "" {
		sb.WriteString("CONVERSATION CONTEXT (stay consistent with prior answers; do not cite this):\n")
		sb.WriteString(conversationContext)
		sb.WriteString("\n\n")
	}

	sb.WriteString("DOCUMENTS:\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[Doc %d: %s, Page %s]\n%s\n\n", i+1, c.Filename, c.Page, c.Text)
	}

	sb.WriteString("QUESTION: ")
	sb.WriteString(query)
	return sb.String()
}

var citationPattern = regexp.MustCompile(`\[Doc (\d+)\]`)

// ExtractCitedSources collects the unique [Doc k] markers in the answer and
// maps each to the chunk at index k-1. Markers outside the provided set are
// dropped; uncited chunks are not returned.
func ExtractCitedSources(answer string, chunks []model.RankedChunk) []model.CitedSource {
	seen := make(map[int]bool)
	var docNums []int
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		k, err := strconv.Atoi(m[1])
		if err != nil || k < 1 || k > len(chunks) || seen[k] {
			continue
		}
		seen[k] = true
		docNums = append(docNums, k)
	}
	sort.Ints(docNums)

	sources := make([]model.CitedSource, 0, len(docNums))
	for _, k := range docNums {
		c := chunks[k-1]
		sources = append(sources, model.CitedSource{
			Doc:      k,
			Filename: c.Filename,
			Page:     c.Page,
			URL:      c.SourceURL,
		})
	}
	return sources
}
