package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Scores are the per-criterion judge grades. Accuracy, completeness, and
// citation quality are 0-5; coherence is 0-3.
type Scores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Citation     float64 `json:"citation"`
	Coherence    float64 `json:"coherence"`
}

// Composite folds the criteria into a 0-100 score. When citation grading is
// disabled the remaining weights are divided by 0.9, preserving their
// ratio (55.6/33.3/11.1).
func Composite(s Scores, citationEnabled bool) float64 {
	accuracy := 50 * s.Accuracy / 5
	completeness := 30 * s.Completeness / 5
	coherence := 10 * s.Coherence / 3

	if citationEnabled {
		return accuracy + completeness + coherence + 10*s.Citation/5
	}
	return (accuracy + completeness + coherence) / 0.9
}

// JudgeResult is one graded answer.
type JudgeResult struct {
	Scores    Scores  `json:"scores"`
	Composite float64 `json:"composite"`
	Feedback  string  `json:"feedback"`
}

// Judge grades chatbot answers against reference answers with an LLM.
type Judge struct {
	client          llm.Client
	model           string
	citationEnabled bool
}

// NewJudge creates a Judge.
func NewJudge(client llm.Client, judgeModel string, citationEnabled bool) *Judge {
	return &Judge{client: client, model: judgeModel, citationEnabled: citationEnabled}
}

// CitationEnabled reports the grading mode, recorded in checkpoints.
func (j *Judge) CitationEnabled() bool { return j.citationEnabled }

// Evaluate grades one answer. Unlike the pipeline fallbacks, a judge
// failure here is an error: a run without grades is not a run.
func (j *Judge) Evaluate(ctx context.Context, question, expected, actual string, sources []model.CitedSource) (*JudgeResult, error) {
	prompt := j.buildPrompt(question, expected, actual, sources)

	raw, _, err := j.client.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Options{
		Model:       j.model,
		Temperature: 0.1,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("eval.Evaluate: %w", err)
	}

	var parsed struct {
		Scores
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return nil, model.NewError(model.KindProviderParse, "eval.Evaluate", "judge returned invalid JSON", err)
	}

	s := clampScores(parsed.Scores)
	return &JudgeResult{
		Scores:    s,
		Composite: Composite(s, j.citationEnabled),
		Feedback:  parsed.Feedback,
	}, nil
}

func (j *Judge) buildPrompt(question, expected, actual string, sources []model.CitedSource) string {
	var sb strings.Builder

	sb.WriteString("You grade a Texas childcare assistance chatbot's answer against a reference answer.\n\n")
	sb.WriteString("QUESTION:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nREFERENCE ANSWER:\n")
	sb.WriteString(expected)
	sb.WriteString("\n\nCHATBOT ANSWER:\n")
	sb.WriteString(actual)

	if len(sources) > 0 {
		sb.WriteString("\n\nCITED SOURCES:\n")
		for _, s := range sources {
			fmt.Fprintf(&sb, "- [Doc %d] %s, page %s\n", s.Doc, s.Filename, s.Page)
		}
	}

	sb.WriteString("\n\nGrade these criteria:\n")
	sb.WriteString("- accuracy (0-5): facts, amounts, and dates match the reference\n")
	sb.WriteString("- completeness (0-5): all key points of the reference are covered\n")
	if j.citationEnabled {
		sb.WriteString("- citation (0-5): claims carry [Doc N] citations to plausible sources\n")
	} else {
		sb.WriteString("- citation: return 0 (not graded in this run)\n")
	}
	sb.WriteString("- coherence (0-3): clear, well-organized, directly answers the question\n")
	sb.WriteString("\nReturn JSON: {\"accuracy\": N, \"completeness\": N, \"citation\": N, \"coherence\": N, \"feedback\": \"one sentence\"}")

	return sb.String()
}

func clampScores(s Scores) Scores {
	clamp := func(v, max float64) float64 {
		if v < 0 {
			return 0
		}
		if v > max {
			return max
		}
		return v
	}
	return Scores{
		Accuracy:     clamp(s.Accuracy, 5),
		Completeness: clamp(s.Completeness, 5),
		Citation:     clamp(s.Citation, 5),
		Coherence:    clamp(s.Coherence, 3),
	}
}
