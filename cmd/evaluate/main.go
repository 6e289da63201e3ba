// Command evaluate runs the offline evaluation harness against the chatbot
// pipeline: batch Q&A grading with an LLM judge, checkpointed run
// directories, and optional multi-turn conversational scripts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearpath-ai/texcare-backend/internal/config"
	"github.com/clearpath-ai/texcare-backend/internal/embedding"
	"github.com/clearpath-ai/texcare-backend/internal/eval"
	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/memory"
	"github.com/clearpath-ai/texcare-backend/internal/service"
	"github.com/clearpath-ai/texcare-backend/internal/store"
	"github.com/clearpath-ai/texcare-backend/internal/websearch"
)

var (
	flagQADir       string
	flagScriptsDir  string
	flagMode        string
	flagResume      bool
	flagNoCitations bool
	flagWorkers     int
)

func main() {
	root := &cobra.Command{
		Use:           "evaluate",
		Short:         "Run the offline evaluation harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	batch := &cobra.Command{
		Use:   "batch",
		Short: "Grade a directory of Q&A markdown files",
		RunE:  runBatch,
	}
	batch.Flags().StringVar(&flagQADir, "qa-dir", "eval/qa", "directory of Q&A markdown files")
	batch.Flags().StringVar(&flagMode, "mode", "", "retrieval mode under test: dense, hybrid, managed, or keyword (ablation; default from config)")
	batch.Flags().BoolVar(&flagResume, "resume", false, "resume from the last checkpoint")
	batch.Flags().BoolVar(&flagNoCitations, "no-citations", false, "skip citation grading")
	batch.Flags().IntVar(&flagWorkers, "workers", 0, "parallel workers (default from config)")

	conv := &cobra.Command{
		Use:   "conversational",
		Short: "Replay multi-turn YAML scripts and grade context resolution",
		RunE:  runConversational,
	}
	conv.Flags().StringVar(&flagScriptsDir, "scripts-dir", "eval/conversations", "directory of YAML conversation scripts")
	conv.Flags().BoolVar(&flagNoCitations, "no-citations", false, "skip citation grading")

	root.AddCommand(batch, conv)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildHarness wires the chatbot plus the judge client for evaluation runs.
func buildHarness(ctx context.Context, cfg *config.Config, conversational bool) (*service.Chatbot, llm.Client, func(), error) {
	chunkStore, err := store.New(cfg.QdrantAPIURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("chunk store: %w", err)
	}
	cleanup := func() { chunkStore.Close() }

	embedder := embedding.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel)

	providers := &service.ProviderClients{}
	if cfg.GroqAPIKey != "" {
		providers.Fast = llm.NewFast(cfg.GroqAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		providers.OpenAICompatible = llm.NewOpenAICompatible(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	}
	if providers.Fast == nil && providers.OpenAICompatible == nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("no LLM provider configured: set GROQ_API_KEY or OPENAI_API_KEY")
	}

	judgeClient, err := providers.ForProvider(cfg.LLMProvider)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	retrievers := &service.RetrieverSet{
		Dense:  service.NewDenseRetriever(embedder, chunkStore, cfg.MinSimilarity),
		Hybrid: service.NewHybridRetriever(embedder, chunkStore),
		// Keyword is wired only here: ablation runs compare lexical-only
		// retrieval against dense and hybrid.
		Keyword: service.NewKeywordRetriever(chunkStore),
	}

	var web service.Retriever
	if cfg.SearchAPIKey != "" {
		web = service.NewWebRetriever(websearch.New(cfg.SearchAPIURL, cfg.SearchAPIKey))
	}

	var mem memory.Store
	if conversational {
		inproc := memory.NewInProcess(cfg.SessionTimeout())
		mem = inproc
		prev := cleanup
		cleanup = func() { inproc.Close(); prev() }
	}

	return service.NewChatbot(cfg, providers, retrievers, web, mem), judgeClient, cleanup, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	mode := cfg.RetrievalMode
	if flagMode != "" {
		// The harness additionally accepts the keyword ablation mode,
		// which the request enum does not.
		if !config.ValidRetrievalMode(flagMode) && flagMode != service.RetrievalKeyword {
			return fmt.Errorf("unknown retrieval mode %q", flagMode)
		}
		mode = flagMode
	}
	workers := cfg.ParallelWorkers
	if flagWorkers > 0 {
		workers = flagWorkers
	}

	pairs, err := eval.ParseDir(flagQADir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	bot, judgeClient, cleanup, err := buildHarness(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	judge := eval.NewJudge(judgeClient, cfg.LLMModel, !flagNoCitations)
	runner := eval.NewRunner(bot, judge, mode, cfg.ResultsDir, workers)

	fmt.Printf("Evaluating %d questions (mode=%s, workers=%d, citations=%v)\n",
		len(pairs), mode, workers, !flagNoCitations)
	start := time.Now()

	summary, err := runner.Run(ctx, pairs, flagResume)
	if err != nil {
		return err
	}

	fmt.Printf("\nDone in %s: %d/%d evaluated, %d passed, avg composite %.1f\n",
		time.Since(start).Round(time.Second), summary.Evaluated, summary.Total, summary.Passed, summary.AvgComposite)
	fmt.Println("Results:", summary.RunDir)
	if summary.Halted {
		fmt.Printf("HALTED at question index %d — fix and rerun with --resume\n", summary.HaltedAt)
		os.Exit(2)
	}
	return nil
}

func runConversational(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	scripts, err := eval.LoadScripts(flagScriptsDir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	bot, judgeClient, cleanup, err := buildHarness(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	judge := eval.NewJudge(judgeClient, cfg.LLMModel, !flagNoCitations)
	runner := eval.NewConversationalRunner(bot, judge, judgeClient, cfg.LLMModel)

	allPassed := true
	for _, script := range scripts {
		result, err := runner.RunScript(ctx, script)
		if err != nil {
			return err
		}
		status := "PASS"
		if !result.AllTurnsPassed {
			status = "FAIL"
			allPassed = false
		}
		fmt.Printf("[%s] %s: avg=%.1f context_resolution=%.0f%%\n",
			status, result.Name, result.AvgScore, 100*result.ContextResolutionRate)

		data, _ := json.MarshalIndent(result, "", "  ")
		out := fmt.Sprintf("%s/conversational_%s.json", cfg.ResultsDir, result.Name)
		if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
	}
	if !allPassed {
		os.Exit(2)
	}
	return nil
}
