package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearpath-ai/texcare-backend/internal/config"
	"github.com/clearpath-ai/texcare-backend/internal/embedding"
	"github.com/clearpath-ai/texcare-backend/internal/handler"
	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/memory"
	"github.com/clearpath-ai/texcare-backend/internal/middleware"
	"github.com/clearpath-ai/texcare-backend/internal/router"
	"github.com/clearpath-ai/texcare-backend/internal/service"
	"github.com/clearpath-ai/texcare-backend/internal/store"
	"github.com/clearpath-ai/texcare-backend/internal/websearch"
)

const Version = "1.2.0"

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// buildChatbot wires the pipeline from configuration. Returned cleanup
// closes long-lived connections.
func buildChatbot(ctx context.Context, cfg *config.Config) (*service.Chatbot, func(), error) {
	chunkStore, err := store.New(cfg.QdrantAPIURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk store: %w", err)
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
		return nil, nil, fmt.Errorf("no LLM provider configured: set GROQ_API_KEY or OPENAI_API_KEY")
	}

	retrievers := &service.RetrieverSet{
		Dense:  service.NewDenseRetriever(embedder, chunkStore, cfg.MinSimilarity),
		Hybrid: service.NewHybridRetriever(embedder, chunkStore),
	}

	var web service.Retriever
	if cfg.SearchAPIKey != "" {
		web = service.NewWebRetriever(websearch.New(cfg.SearchAPIURL, cfg.SearchAPIKey))
	}

	var mem memory.Store
	if cfg.ConversationalMode {
		if cfg.RedisURL != "" {
			redisStore, err := memory.NewRedis(cfg.RedisURL, cfg.SessionTimeout())
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("redis memory: %w", err)
			}
			if err := redisStore.Ping(ctx); err != nil {
				cleanup()
				redisStore.Close()
				return nil, nil, fmt.Errorf("redis memory: %w", err)
			}
			mem = redisStore
			prev := cleanup
			cleanup = func() { redisStore.Close(); prev() }
		} else {
			inproc := memory.NewInProcess(cfg.SessionTimeout())
			mem = inproc
			prev := cleanup
			cleanup = func() { inproc.Close(); prev() }
		}
	}

	return service.NewChatbot(cfg, providers, retrievers, web, mem), cleanup, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	bot, cleanup, initErr := buildChatbot(ctx, cfg)
	cancel()
	if initErr != nil {
		// Start anyway so /api/health can report what is wrong.
		slog.Error("chatbot initialization failed", "error", initErr)
	} else {
		defer cleanup()
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{cfg.FrontendURL}
	}

	deps := &router.Dependencies{
		CORSOrigins:        origins,
		DomainSuffix:       cfg.DeploymentDomainSuffix,
		Metrics:            metrics,
		MetricsReg:         reg,
		ChatbotInitialized: initErr == nil,
		InitError:          initErr,
	}
	if initErr == nil {
		deps.ChatDeps = handler.ChatDeps{
			Bot:            bot,
			Metrics:        metrics,
			Conversational: cfg.ConversationalMode,
			RequestTimeout: cfg.RequestTimeout,
		}
	} else {
		deps.ChatDeps = handler.ChatDeps{Bot: unavailableBot{}, RequestTimeout: cfg.RequestTimeout}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("texcare-backend starting",
			"version", Version,
			"port", cfg.Port,
			"retrieval_mode", cfg.RetrievalMode,
			"conversational", cfg.ConversationalMode,
			"chatbot_initialized", initErr == nil,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// unavailableBot answers every request with an upstream error while the
// real chatbot failed to initialize.
type unavailableBot struct{}

func (unavailableBot) Answer(ctx context.Context, question string, opts service.AskOptions) (*service.ChatResult, error) {
	return nil, fmt.Errorf("chatbot is not initialized")
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
