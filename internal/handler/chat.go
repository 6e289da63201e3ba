package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clearpath-ai/texcare-backend/internal/middleware"
	"github.com/clearpath-ai/texcare-backend/internal/model"
	"github.com/clearpath-ai/texcare-backend/internal/service"
)

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Question      string `json:"question"`
	SessionID     string `json:"session_id,omitempty"`
	RetrievalMode string `json:"retrieval_mode,omitempty"`
	Debug         bool   `json:"debug,omitempty"`
	Models        *struct {
		Provider      string `json:"provider,omitempty"`
		LLMModel      string `json:"llm_model,omitempty"`
		RerankerModel string `json:"reranker_model,omitempty"`
		IntentModel   string `json:"intent_model,omitempty"`
	} `json:"models,omitempty"`
}

// ChatResponse is the wire shape for a successful answer.
type ChatResponse struct {
	Answer            string               `json:"answer"`
	Sources           []model.CitedSource  `json:"sources"`
	ResponseType      string               `json:"response_type"`
	ProcessingTime    float64              `json:"processing_time"`
	SessionID         string               `json:"session_id,omitempty"`
	Timestamp         string               `json:"timestamp"`
	ReformulatedQuery *string              `json:"reformulated_query,omitempty"`
	TurnCount         *int                 `json:"turn_count,omitempty"`
	DebugInfo         map[string]any       `json:"debug_info,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Answerer abstracts the chatbot for testability.
type Answerer interface {
	Answer(ctx context.Context, question string, opts service.AskOptions) (*service.ChatResult, error)
}

// ChatDeps bundles what the chat handler needs.
type ChatDeps struct {
	Bot            Answerer
	Metrics        *middleware.Metrics // optional
	Conversational bool
	RequestTimeout time.Duration
}

// Chat handles POST /api/chat.
func Chat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, string(model.KindInvalidArgument), "invalid request body")
			return
		}
		if req.Question == "" {
			respondError(w, http.StatusBadRequest, string(model.KindInvalidArgument), "question is required")
			return
		}

		ctx := r.Context()
		if deps.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.RequestTimeout)
			defer cancel()
		}

		opts := service.AskOptions{
			RetrievalMode: req.RetrievalMode,
			Debug:         req.Debug,
		}
		if req.Models != nil {
			opts.Models = &service.ModelOverrides{
				Provider:      req.Models.Provider,
				LLMModel:      req.Models.LLMModel,
				RerankerModel: req.Models.RerankerModel,
				IntentModel:   req.Models.IntentModel,
			}
		}

		sessionID := req.SessionID
		if deps.Conversational {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			opts.ThreadID = sessionID
		}

		requestID := middleware.RequestIDFromContext(r.Context())

		result, err := deps.Bot.Answer(ctx, req.Question, opts)
		if err != nil {
			status := model.HTTPStatus(err)
			slog.Error("chat request failed",
				"request_id", requestID,
				"session_id", sessionID,
				"status", status,
				"kind", model.KindOf(err),
				"error", err,
			)
			respondError(w, status, string(model.KindOf(err)), publicMessage(err))
			return
		}

		slog.Info("chat answered",
			"request_id", requestID,
			"session_id", sessionID,
			"response_type", result.ResponseType,
			"sources", len(result.Sources),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)

		if deps.Metrics != nil {
			deps.Metrics.RecordAnswer(result.ResponseType)
		}

		resp := ChatResponse{
			Answer:         result.Answer,
			Sources:        result.Sources,
			ResponseType:   result.ResponseType,
			ProcessingTime: time.Since(start).Seconds(),
			SessionID:      sessionID,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			DebugInfo:      result.DebugInfo,
		}
		if result.Sources == nil {
			resp.Sources = []model.CitedSource{}
		}
		if result.Conversational {
			reformulated := result.ReformulatedQuery
			resp.ReformulatedQuery = &reformulated
			turns := result.TurnCount
			resp.TurnCount = &turns
		}

		respondJSON(w, http.StatusOK, resp)
	}
}

// publicMessage keeps provider internals out of error bodies; typed errors
// carry a safe message, everything else gets a generic one.
func publicMessage(err error) string {
	var e *model.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	switch model.KindOf(err) {
	case model.KindInvalidArgument:
		return "invalid request"
	case model.KindDeadlineExceeded:
		return "the request timed out"
	default:
		return "an upstream service is unavailable, please retry"
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorResponse{Error: code, Message: msg})
}
