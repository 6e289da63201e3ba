package eval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearpath-ai/texcare-backend/internal/model"
	"github.com/clearpath-ai/texcare-backend/internal/service"
)

// passThreshold halts the run when a composite score falls below it.
const passThreshold = 70.0

// Answerer abstracts the chatbot for the harness.
type Answerer interface {
	Answer(ctx context.Context, question string, opts service.AskOptions) (*service.ChatResult, error)
}

// Result is one graded question in detailed_results.jsonl.
type Result struct {
	Index        int                 `json:"index"`
	File         string              `json:"file"`
	Number       int                 `json:"number"`
	Question     string              `json:"question"`
	Expected     string              `json:"expected"`
	Answer       string              `json:"answer"`
	Sources      []model.CitedSource `json:"sources"`
	ResponseTime float64             `json:"response_time"`
	Scores       Scores              `json:"scores"`
	Composite    float64             `json:"composite"`
	Feedback     string              `json:"feedback,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	Mode            string    `json:"mode"`
	CitationEnabled bool      `json:"citation_enabled"`
	Total           int       `json:"total"`
	Evaluated       int       `json:"evaluated"`
	Passed          int       `json:"passed"`
	AvgComposite    float64   `json:"avg_composite"`
	AvgAccuracy     float64   `json:"avg_accuracy"`
	AvgCompleteness float64   `json:"avg_completeness"`
	AvgCitation     float64   `json:"avg_citation"`
	AvgCoherence    float64   `json:"avg_coherence"`
	AvgResponseTime float64   `json:"avg_response_time"`
	Halted          bool      `json:"halted"`
	HaltedAt        int       `json:"halted_at,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	RunDir          string    `json:"run_dir"`
}

// Runner drives a batch evaluation.
type Runner struct {
	bot        Answerer
	judge      *Judge
	mode       string
	resultsDir string
	workers    int
}

// NewRunner creates a Runner. mode selects the retrieval mode under test
// and names the results subdirectory.
func NewRunner(bot Answerer, judge *Judge, mode, resultsDir string, workers int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{bot: bot, judge: judge, mode: mode, resultsDir: resultsDir, workers: workers}
}

// Run evaluates pairs, grading each answer and halting on the first
// composite below the pass threshold. With resume, grading restarts at the
// question the checkpoint points to; the failed question is re-evaluated,
// not skipped.
func (r *Runner) Run(ctx context.Context, pairs []QAPair, resume bool) (*Summary, error) {
	start := 0
	if resume {
		cp, err := LoadCheckpoint(r.resultsDir, r.mode)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if err := ValidateResume(cp, r.judge.CitationEnabled()); err != nil {
				return nil, err
			}
			start = cp.LastCompletedIndex
			prior, err := LatestRunDir(r.resultsDir, r.mode)
			if err != nil {
				return nil, fmt.Errorf("eval.Run: resume: %w", err)
			}
			slog.Info("resuming evaluation",
				"mode", r.mode,
				"start_index", start,
				"last_file", cp.LastFile,
				"prior_run", prior,
			)
		}
	}
	if start >= len(pairs) {
		return nil, fmt.Errorf("eval.Run: checkpoint index %d is past the end of the %d-question set", start, len(pairs))
	}

	runDir, err := newRunDir(r.resultsDir, r.mode)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Mode:            r.mode,
		CitationEnabled: r.judge.CitationEnabled(),
		Total:           len(pairs),
		StartedAt:       time.Now().UTC(),
		RunDir:          runDir,
	}

	var results []Result

	// Evaluate in waves of `workers` so parallelism stays bounded while
	// stop-on-fail still halts in question order.
	for waveStart := start; waveStart < len(pairs); waveStart += r.workers {
		waveEnd := waveStart + r.workers
		if waveEnd > len(pairs) {
			waveEnd = len(pairs)
		}

		wave := make([]*Result, waveEnd-waveStart)
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for i := waveStart; i < waveEnd; i++ {
			i := i
			g.Go(func() error {
				res, err := r.evaluateOne(gCtx, i, pairs[i])
				if err != nil {
					return err
				}
				wave[i-waveStart] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		halted := false
		for _, res := range wave {
			if res.Composite < passThreshold {
				// Write the checkpoint with progress up to, but not
				// including, the failed question.
				cp := Checkpoint{
					LastCompletedIndex: res.Index,
					LastFile:           res.File,
					CitationEnabled:    r.judge.CitationEnabled(),
				}
				if err := SaveCheckpoint(r.resultsDir, r.mode, cp); err != nil {
					return nil, err
				}
				summary.Halted = true
				summary.HaltedAt = res.Index
				halted = true

				slog.Warn("evaluation halted on failing question",
					"index", res.Index,
					"composite", res.Composite,
					"threshold", passThreshold,
				)
				if err := writeFailureAnalysis(runDir, *res, passThreshold); err != nil {
					return nil, err
				}
				break
			}
			results = append(results, *res)
		}
		if halted {
			break
		}
	}

	summary.FinishedAt = time.Now().UTC()
	aggregate(summary, results)

	if err := writeResults(runDir, results); err != nil {
		return nil, err
	}
	if err := writeSummary(runDir, summary); err != nil {
		return nil, err
	}
	if err := writeReport(runDir, summary, results); err != nil {
		return nil, err
	}

	if !summary.Halted {
		if err := DeleteCheckpoint(r.resultsDir, r.mode); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (r *Runner) evaluateOne(ctx context.Context, index int, pair QAPair) (*Result, error) {
	askStart := time.Now()
	chat, err := r.bot.Answer(ctx, pair.Question, service.AskOptions{RetrievalMode: r.mode})
	if err != nil {
		return nil, fmt.Errorf("eval.Run: Q%d (%s): %w", pair.Number, pair.File, err)
	}
	elapsed := time.Since(askStart).Seconds()

	graded, err := r.judge.Evaluate(ctx, pair.Question, pair.Expected, chat.Answer, chat.Sources)
	if err != nil {
		return nil, fmt.Errorf("eval.Run: judge Q%d (%s): %w", pair.Number, pair.File, err)
	}

	slog.Info("question graded",
		"index", index,
		"file", pair.File,
		"number", pair.Number,
		"composite", graded.Composite,
		"response_time_s", elapsed,
	)

	return &Result{
		Index:        index,
		File:         pair.File,
		Number:       pair.Number,
		Question:     pair.Question,
		Expected:     pair.Expected,
		Answer:       chat.Answer,
		Sources:      chat.Sources,
		ResponseTime: elapsed,
		Scores:       graded.Scores,
		Composite:    graded.Composite,
		Feedback:     graded.Feedback,
	}, nil
}

func aggregate(s *Summary, results []Result) {
	s.Evaluated = len(results)
	if len(results) == 0 {
		return
	}
	for _, r := range results {
		s.AvgComposite += r.Composite
		s.AvgAccuracy += r.Scores.Accuracy
		s.AvgCompleteness += r.Scores.Completeness
		s.AvgCitation += r.Scores.Citation
		s.AvgCoherence += r.Scores.Coherence
		s.AvgResponseTime += r.ResponseTime
		if r.Composite >= passThreshold {
			s.Passed++
		}
	}
	n := float64(len(results))
	s.AvgComposite /= n
	s.AvgAccuracy /= n
	s.AvgCompleteness /= n
	s.AvgCitation /= n
	s.AvgCoherence /= n
	s.AvgResponseTime /= n
}

// newRunDir creates results/<mode>/RUN_YYYYMMDD_HHMMSS.
func newRunDir(resultsDir, mode string) (string, error) {
	dir := filepath.Join(resultsDir, mode, "RUN_"+time.Now().UTC().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("eval.newRunDir: %w", err)
	}
	return dir, nil
}

// LatestRunDir returns the newest RUN_* directory for a mode; RUN names
// sort by timestamp.
func LatestRunDir(resultsDir, mode string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(resultsDir, mode))
	if err != nil {
		return "", fmt.Errorf("eval.LatestRunDir: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "RUN_") {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("eval.LatestRunDir: no runs for mode %s", mode)
	}
	sort.Strings(runs)
	return filepath.Join(resultsDir, mode, runs[len(runs)-1]), nil
}
