package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/model"
	"github.com/clearpath-ai/texcare-backend/internal/service"
)

// ScriptTurn is one turn of a scripted conversation with its expectations.
type ScriptTurn struct {
	Question        string   `yaml:"question"`
	ExpectedTopics  []string `yaml:"expected_topics"`
	MustContain     []string `yaml:"must_contain"`
	RequiresContext bool     `yaml:"requires_context"`
}

// ConversationScript is a YAML multi-turn evaluation scenario.
type ConversationScript struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Turns       []ScriptTurn `yaml:"turns"`
}

// LoadScripts reads every .yaml/.yml file in dir, ordered by filename.
func LoadScripts(dir string) ([]ConversationScript, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("eval.LoadScripts: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && (strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	var scripts []ConversationScript
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("eval.LoadScripts: %w", err)
		}
		var s ConversationScript
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("eval.LoadScripts: %s: %w", name, err)
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if len(s.Turns) == 0 {
			return nil, fmt.Errorf("eval.LoadScripts: %s: no turns", name)
		}
		scripts = append(scripts, s)
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("eval.LoadScripts: no scripts found in %s", dir)
	}
	return scripts, nil
}

// TurnResult is one graded conversation turn.
type TurnResult struct {
	Turn              int     `json:"turn"`
	Question          string  `json:"question"`
	ReformulatedQuery string  `json:"reformulated_query,omitempty"`
	Answer            string  `json:"answer"`
	Composite         float64 `json:"composite"`
	ContextResolution float64 `json:"context_resolution"`
	MissingStrings    []string `json:"missing_strings,omitempty"`
	Passed            bool    `json:"passed"`
}

// ConversationResult aggregates one script.
type ConversationResult struct {
	Name                  string       `json:"name"`
	Turns                 []TurnResult `json:"turns"`
	AvgScore              float64      `json:"avg_score"`
	ContextResolutionRate float64      `json:"context_resolution_rate"`
	AllTurnsPassed        bool         `json:"all_turns_passed"`
}

// ConversationalRunner replays multi-turn scripts against the chatbot in
// conversational mode and grades each turn, including how well the
// reformulator expanded pronouns and ellipses.
type ConversationalRunner struct {
	bot    Answerer
	judge  *Judge
	client llm.Client
	model  string
}

// NewConversationalRunner creates a ConversationalRunner. client and
// judgeModel drive the context-resolution grading.
func NewConversationalRunner(bot Answerer, judge *Judge, client llm.Client, judgeModel string) *ConversationalRunner {
	return &ConversationalRunner{bot: bot, judge: judge, client: client, model: judgeModel}
}

// RunScript plays one conversation on a fresh thread.
func (r *ConversationalRunner) RunScript(ctx context.Context, script ConversationScript) (*ConversationResult, error) {
	threadID := uuid.NewString()
	result := &ConversationResult{Name: script.Name, AllTurnsPassed: true}

	contextTurns, contextResolved := 0, 0

	for i, turn := range script.Turns {
		chat, err := r.bot.Answer(ctx, turn.Question, service.AskOptions{ThreadID: threadID})
		if err != nil {
			return nil, fmt.Errorf("eval.RunScript: %s turn %d: %w", script.Name, i+1, err)
		}

		tr := TurnResult{
			Turn:              i + 1,
			Question:          turn.Question,
			ReformulatedQuery: chat.ReformulatedQuery,
			Answer:            chat.Answer,
			Passed:            true,
		}

		for _, must := range turn.MustContain {
			if !strings.Contains(strings.ToLower(chat.Answer), strings.ToLower(must)) {
				tr.MissingStrings = append(tr.MissingStrings, must)
				tr.Passed = false
			}
		}

		expected := strings.Join(turn.ExpectedTopics, ", ")
		graded, err := r.judge.Evaluate(ctx, turn.Question,
			"The answer should cover: "+expected, chat.Answer, chat.Sources)
		if err != nil {
			return nil, fmt.Errorf("eval.RunScript: judge %s turn %d: %w", script.Name, i+1, err)
		}
		tr.Composite = graded.Composite
		if graded.Composite < passThreshold {
			tr.Passed = false
		}

		if turn.RequiresContext {
			contextTurns++
			resolution, err := r.gradeContextResolution(ctx, turn.Question, chat.ReformulatedQuery)
			if err != nil {
				return nil, fmt.Errorf("eval.RunScript: context grade %s turn %d: %w", script.Name, i+1, err)
			}
			tr.ContextResolution = resolution
			if resolution >= 3 {
				contextResolved++
			} else {
				tr.Passed = false
			}
		}

		if !tr.Passed {
			result.AllTurnsPassed = false
		}
		result.Turns = append(result.Turns, tr)
		result.AvgScore += tr.Composite

		slog.Info("conversation turn graded",
			"script", script.Name,
			"turn", i+1,
			"composite", tr.Composite,
			"context_resolution", tr.ContextResolution,
			"passed", tr.Passed,
		)
	}

	result.AvgScore /= float64(len(result.Turns))
	if contextTurns > 0 {
		result.ContextResolutionRate = float64(contextResolved) / float64(contextTurns)
	} else {
		result.ContextResolutionRate = 1
	}
	return result, nil
}

// gradeContextResolution scores [0..5] whether the reformulated query is a
// standalone question with references resolved.
func (r *ConversationalRunner) gradeContextResolution(ctx context.Context, original, reformulated string) (float64, error) {
	if reformulated == "" {
		reformulated = original
	}

	prompt := fmt.Sprintf(`A follow-up question in a conversation was rewritten to stand alone.

ORIGINAL: %s
REWRITTEN: %s

Score 0-5 how well the rewrite resolves pronouns, ellipses, and implicit references into a fully self-contained question (5 = completely standalone, 0 = still depends on unstated context).

Return JSON: {"context_resolution": N}`, original, reformulated)

	raw, _, err := r.client.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Options{
		Model:       r.model,
		Temperature: 0.1,
		MaxTokens:   64,
		JSONMode:    true,
	})
	if err != nil {
		return 0, err
	}

	var parsed struct {
		ContextResolution float64 `json:"context_resolution"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return 0, model.NewError(model.KindProviderParse, "eval.gradeContextResolution", "judge returned invalid JSON", err)
	}
	if parsed.ContextResolution < 0 {
		parsed.ContextResolution = 0
	}
	if parsed.ContextResolution > 5 {
		parsed.ContextResolution = 5
	}
	return parsed.ContextResolution, nil
}
