// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Provider names accepted for the per-role LLM provider switches.
const (
	ProviderFast             = "fast"
	ProviderOpenAICompatible = "openai-compatible"
)

// Retrieval modes accepted per request and as the configured default.
const (
	RetrievalDense   = "dense"
	RetrievalHybrid  = "hybrid"
	RetrievalManaged = "managed"
)

// Config holds all application configuration.
// It is immutable after Load() returns.
type Config struct {
	// Server
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Qdrant chunk store
	QdrantAPIURL     string `env:"QDRANT_API_URL" envDefault:"localhost:6334"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"childcare_policy"`

	// Provider credentials
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	GroqAPIKey    string `env:"GROQ_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	SearchAPIKey  string `env:"SEARCH_API_KEY"`
	SearchAPIURL  string `env:"SEARCH_API_URL" envDefault:"https://api.tavily.com"`

	// Provider per role
	LLMProvider        string `env:"LLM_PROVIDER" envDefault:"fast"`
	RerankerProvider   string `env:"RERANKER_PROVIDER" envDefault:"fast"`
	IntentProvider     string `env:"INTENT_CLASSIFIER_PROVIDER" envDefault:"fast"`
	ReformulateProvider string `env:"REFORMULATOR_PROVIDER" envDefault:"fast"`

	// Model per role
	LLMModel         string `env:"LLM_MODEL" envDefault:"llama-3.3-70b-versatile"`
	RerankerModel    string `env:"RERANKER_MODEL" envDefault:"llama-3.1-8b-instant"`
	IntentModel      string `env:"INTENT_MODEL" envDefault:"llama-3.1-8b-instant"`
	ReformulateModel string `env:"REFORMULATOR_MODEL" envDefault:"llama-3.1-8b-instant"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Pipeline
	RetrievalMode      string  `env:"RETRIEVAL_MODE" envDefault:"hybrid"`
	ConversationalMode bool    `env:"CONVERSATIONAL_MODE" envDefault:"false"`
	RetrievalTopK      int     `env:"RETRIEVAL_TOP_K" envDefault:"20"`
	RerankTopK         int     `env:"RERANK_TOP_K" envDefault:"5"`
	MinSimilarity      float64 `env:"MIN_SIMILARITY" envDefault:"0.3"`

	// Web fallback sufficiency rule
	WebFallbackMinChunks int     `env:"WEB_FALLBACK_MIN_CHUNKS" envDefault:"3"`
	WebFallbackMinScore  float64 `env:"WEB_FALLBACK_MIN_SCORE" envDefault:"0.7"`
	WebSearchTopK        int     `env:"WEB_SEARCH_TOP_K" envDefault:"5"`

	// Conversation memory
	SessionTimeoutMinutes int    `env:"SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	MaxHistoryTurns       int    `env:"MAX_HISTORY_TURNS" envDefault:"5"`
	RedisURL              string `env:"REDIS_URL"`

	// Request handling
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// CORS
	CORSOrigins            []string `env:"CORS_ORIGINS" envSeparator:","`
	FrontendURL            string   `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	DeploymentDomainSuffix string   `env:"DEPLOYMENT_DOMAIN_SUFFIX" envDefault:".run.app"`

	// Evaluation
	ParallelWorkers int    `env:"PARALLEL_WORKERS" envDefault:"5"`
	ResultsDir      string `env:"RESULTS_DIR" envDefault:"results"`
}

// Load reads configuration from a .env file (if present) and the environment,
// then validates the enumerated switches.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects invalid provider/mode combinations at startup.
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"LLM_PROVIDER":               c.LLMProvider,
		"RERANKER_PROVIDER":          c.RerankerProvider,
		"INTENT_CLASSIFIER_PROVIDER": c.IntentProvider,
		"REFORMULATOR_PROVIDER":      c.ReformulateProvider,
	} {
		if p != ProviderFast && p != ProviderOpenAICompatible {
			return fmt.Errorf("config.Validate: %s must be %q or %q, got %q",
				name, ProviderFast, ProviderOpenAICompatible, p)
		}
	}

	if !ValidRetrievalMode(c.RetrievalMode) {
		return fmt.Errorf("config.Validate: RETRIEVAL_MODE must be one of dense, hybrid, managed, got %q", c.RetrievalMode)
	}

	if c.RetrievalTopK <= 0 || c.RerankTopK <= 0 {
		return fmt.Errorf("config.Validate: RETRIEVAL_TOP_K and RERANK_TOP_K must be positive")
	}
	if c.ParallelWorkers <= 0 {
		return fmt.Errorf("config.Validate: PARALLEL_WORKERS must be positive")
	}
	return nil
}

// ValidRetrievalMode reports whether mode is an accepted retrieval mode.
func ValidRetrievalMode(mode string) bool {
	switch mode {
	case RetrievalDense, RetrievalHybrid, RetrievalManaged:
		return true
	}
	return false
}

// SessionTimeout returns the conversation eviction window as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}
