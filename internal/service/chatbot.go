package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/clearpath-ai/texcare-backend/internal/config"
	"github.com/clearpath-ai/texcare-backend/internal/graph"
	"github.com/clearpath-ai/texcare-backend/internal/llm"
	"github.com/clearpath-ai/texcare-backend/internal/memory"
	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Node names in the request pipeline.
const (
	nodeReformulate = "reformulate"
	nodeClassify    = "classify"
	nodeRetrieve    = "retrieve"
	nodeRerank      = "rerank"
	nodeGenerate    = "generate"
	nodeLocation    = "location"
	nodeHybrid      = "hybrid_web_fallback"
)

// ProviderClients holds the two runtime providers. Role settings pick one
// of them per role; per-request overrides may switch both provider and
// model.
type ProviderClients struct {
	Fast             llm.Client
	OpenAICompatible llm.Client
}

// ForProvider resolves a provider name to its client.
func (p *ProviderClients) ForProvider(name string) (llm.Client, error) {
	switch name {
	case config.ProviderFast:
		if p.Fast == nil {
			return nil, model.NewError(model.KindInvalidArgument, "service.ForProvider", "fast provider is not configured", nil)
		}
		return p.Fast, nil
	case config.ProviderOpenAICompatible:
		if p.OpenAICompatible == nil {
			return nil, model.NewError(model.KindInvalidArgument, "service.ForProvider", "openai-compatible provider is not configured", nil)
		}
		return p.OpenAICompatible, nil
	default:
		return nil, model.NewError(model.KindInvalidArgument, "service.ForProvider",
			fmt.Sprintf("unknown provider %q", name), nil)
	}
}

// ModelOverrides are the optional per-request model settings from the API.
type ModelOverrides struct {
	Provider      string
	LLMModel      string
	RerankerModel string
	IntentModel   string
}

// AskOptions configures one Answer call.
type AskOptions struct {
	// RetrievalMode overrides the configured default when non-empty.
	RetrievalMode string
	// ThreadID enables conversational mode for the request.
	ThreadID string
	Debug    bool
	Models   *ModelOverrides
}

// ChatResult is the pipeline output surfaced to the transport layer.
type ChatResult struct {
	Answer            string
	Sources           []model.CitedSource
	ResponseType      string
	ReformulatedQuery string
	TurnCount         int
	Conversational    bool
	DebugInfo         map[string]any
}

// Chatbot owns the pipeline graph and its collaborators.
type Chatbot struct {
	cfg        *config.Config
	providers  *ProviderClients
	retrievers *RetrieverSet
	web        Retriever // nil disables the web fallback branch
	memory     memory.Store
}

// NewChatbot wires the chatbot from its collaborators. web may be nil when
// no search API is configured.
func NewChatbot(cfg *config.Config, providers *ProviderClients, retrievers *RetrieverSet, web Retriever, mem memory.Store) *Chatbot {
	return &Chatbot{
		cfg:        cfg,
		providers:  providers,
		retrievers: retrievers,
		web:        web,
		memory:     mem,
	}
}

// roleServices are the per-request service instances, built after applying
// model overrides. The structs are thin; building them per request is
// cheaper than locking shared ones.
type roleServices struct {
	generator   *GeneratorService
	reranker    *RerankerService
	classifier  *IntentClassifier
	reformulate *Reformulator
	summarizer  *Summarizer
}

func (c *Chatbot) resolveServices(overrides *ModelOverrides) (*roleServices, error) {
	genProvider := c.cfg.LLMProvider
	rerankProvider := c.cfg.RerankerProvider
	intentProvider := c.cfg.IntentProvider
	reformProvider := c.cfg.ReformulateProvider

	genModel := c.cfg.LLMModel
	rerankModel := c.cfg.RerankerModel
	intentModel := c.cfg.IntentModel
	reformModel := c.cfg.ReformulateModel

	if overrides != nil {
		if overrides.Provider != "" {
			genProvider = overrides.Provider
			rerankProvider = overrides.Provider
			intentProvider = overrides.Provider
			reformProvider = overrides.Provider
		}
		if overrides.LLMModel != "" {
			genModel = overrides.LLMModel
		}
		if overrides.RerankerModel != "" {
			rerankModel = overrides.RerankerModel
		}
		if overrides.IntentModel != "" {
			intentModel = overrides.IntentModel
		}
	}

	genClient, err := c.providers.ForProvider(genProvider)
	if err != nil {
		return nil, err
	}
	rerankClient, err := c.providers.ForProvider(rerankProvider)
	if err != nil {
		return nil, err
	}
	intentClient, err := c.providers.ForProvider(intentProvider)
	if err != nil {
		return nil, err
	}
	reformClient, err := c.providers.ForProvider(reformProvider)
	if err != nil {
		return nil, err
	}

	return &roleServices{
		generator:   NewGeneratorService(genClient, genModel),
		reranker:    NewRerankerService(rerankClient, rerankModel),
		classifier:  NewIntentClassifier(intentClient, intentModel),
		reformulate: NewReformulator(reformClient, reformModel),
		summarizer:  NewSummarizer(reformClient, reformModel),
	}, nil
}

// Answer runs the pipeline for one question. In conversational mode
// (opts.ThreadID set) the user question and the produced answer are
// appended to the thread, in that order, after the pipeline completes.
func (c *Chatbot) Answer(ctx context.Context, question string, opts AskOptions) (*ChatResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, model.NewError(model.KindInvalidArgument, "service.Answer", "question is empty", nil)
	}

	mode := c.cfg.RetrievalMode
	if opts.RetrievalMode != "" {
		mode = opts.RetrievalMode
	}
	retriever, err := c.retrievers.ForMode(mode)
	if err != nil {
		return nil, err
	}

	svcs, err := c.resolveServices(opts.Models)
	if err != nil {
		return nil, err
	}

	conversational := opts.ThreadID != "" && c.memory != nil

	var history []model.Message
	var conversationContext string
	if conversational {
		history, err = c.memory.Recent(ctx, opts.ThreadID, c.cfg.MaxHistoryTurns)
		if err != nil {
			return nil, fmt.Errorf("service.Answer: load history: %w", err)
		}
		conversationContext, err = svcs.summarizer.ConversationContext(ctx, history)
		if err != nil {
			return nil, fmt.Errorf("service.Answer: summarize history: %w", err)
		}
	}

	g := c.buildGraph(svcs, retriever, history, conversationContext, conversational)

	final, err := g.Run(ctx, model.RAGState{
		Query:    question,
		ThreadID: opts.ThreadID,
		Messages: history,
		Debug:    opts.Debug,
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Answer:            final.Answer,
		Sources:           final.Sources,
		ResponseType:      final.ResponseType,
		ReformulatedQuery: final.ReformulatedQuery,
		Conversational:    conversational,
		DebugInfo:         final.DebugInfo,
	}

	if conversational {
		if err := c.memory.Append(ctx, opts.ThreadID, "user", question); err != nil {
			return nil, fmt.Errorf("service.Answer: append user turn: %w", err)
		}
		if err := c.memory.Append(ctx, opts.ThreadID, "assistant", final.Answer); err != nil {
			return nil, fmt.Errorf("service.Answer: append assistant turn: %w", err)
		}
		n, err := c.memory.Len(ctx, opts.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("service.Answer: turn count: %w", err)
		}
		result.TurnCount = n / 2
	}

	return result, nil
}

// buildGraph assembles the request pipeline:
//
//	START → (reformulate?) → classify ─┬─> retrieve → rerank → generate → END
//	                                   ├─> location → END
//	                                   └─> hybrid_web_fallback → END
func (c *Chatbot) buildGraph(svcs *roleServices, retriever Retriever, history []model.Message,
	conversationContext string, conversational bool) *graph.Graph {

	entry := nodeClassify
	if conversational {
		entry = nodeReformulate
	}
	g := graph.New(entry)

	if conversational {
		g.AddNode(nodeReformulate, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
			reformulated, err := svcs.reformulate.Reformulate(ctx, s.Query, history)
			if err != nil {
				return graph.Patch{}, err
			}
			if reformulated == s.Query {
				return graph.Patch{}, nil
			}
			return graph.Patch{ReformulatedQuery: graph.Ptr(reformulated)}, nil
		})
		g.AddEdge(nodeReformulate, nodeClassify)
	}

	g.AddNode(nodeClassify, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
		intent, err := svcs.classifier.Classify(ctx, s.EffectiveQuery())
		if err != nil {
			return graph.Patch{}, err
		}
		return graph.Patch{Intent: graph.Ptr(intent)}, nil
	})

	g.AddConditionalEdge(nodeClassify, func(s model.RAGState) string {
		switch s.Intent {
		case model.IntentLocationSearch:
			return nodeLocation
		default:
			if c.web != nil {
				return nodeHybrid
			}
			return nodeRetrieve
		}
	})

	g.AddNode(nodeRetrieve, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
		chunks, err := retriever.Search(ctx, s.EffectiveQuery(), c.cfg.RetrievalTopK)
		if err != nil {
			return graph.Patch{}, err
		}
		return graph.Patch{RetrievedChunks: chunks}, nil
	})
	g.AddEdge(nodeRetrieve, nodeRerank)

	g.AddNode(nodeRerank, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
		ranked, usedFallback, err := svcs.reranker.Rerank(ctx, s.EffectiveQuery(), s.RetrievedChunks, c.cfg.RerankTopK, conversationContext)
		if err != nil {
			return graph.Patch{}, err
		}
		patch := graph.Patch{RerankedChunks: ranked}
		if usedFallback {
			patch.DebugInfo = map[string]any{"rerank_fallback": true}
		}
		return patch, nil
	})
	g.AddEdge(nodeRerank, nodeGenerate)

	g.AddNode(nodeGenerate, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
		gen, err := svcs.generator.Generate(ctx, s.EffectiveQuery(), s.RerankedChunks, conversationContext)
		if err != nil {
			return graph.Patch{}, err
		}
		return graph.Patch{
			Answer:       graph.Ptr(gen.Answer),
			Sources:      gen.Sources,
			ResponseType: graph.Ptr(string(model.IntentInformation)),
		}, nil
	})
	g.AddEdge(nodeGenerate, graph.End)

	g.AddNode(nodeLocation, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
		answer, sources := LocationAnswer(s.EffectiveQuery())
		return graph.Patch{
			Answer:       graph.Ptr(answer),
			Sources:      sources,
			ResponseType: graph.Ptr(string(model.IntentLocationSearch)),
		}, nil
	})
	g.AddEdge(nodeLocation, graph.End)

	if c.web != nil {
		handler := NewWebFallbackHandler(retriever, c.web, svcs.reranker, svcs.generator,
			SufficiencyRule{MinChunks: c.cfg.WebFallbackMinChunks, MinScore: c.cfg.WebFallbackMinScore},
			c.cfg.RetrievalTopK, c.cfg.RerankTopK, c.cfg.WebSearchTopK)

		g.AddNode(nodeHybrid, func(ctx context.Context, s model.RAGState) (graph.Patch, error) {
			res, err := handler.Handle(ctx, s.EffectiveQuery(), conversationContext)
			if err != nil {
				return graph.Patch{}, err
			}
			responseType := string(model.IntentInformation)
			if res.UsedWeb {
				responseType = string(model.IntentWebFallback)
			}
			return graph.Patch{
				RetrievedChunks: res.Retrieved,
				RerankedChunks:  res.Reranked,
				Answer:          graph.Ptr(res.Answer),
				Sources:         res.Sources,
				ResponseType:    graph.Ptr(responseType),
			}, nil
		})
		g.AddEdge(nodeHybrid, graph.End)
	}

	return g
}
