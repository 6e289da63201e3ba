package model

import "time"

// Intent is the routing decision made after classification.
type Intent string

const (
	IntentInformation    Intent = "information"
	IntentLocationSearch Intent = "location_search"
	IntentWebFallback    Intent = "web_fallback"
)

// Message is a single turn in a conversation thread.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RAGState is the pipeline state threaded through the graph. It is created
// per request, mutated only by node patches, and discarded on return.
type RAGState struct {
	Query             string
	ReformulatedQuery string
	Intent            Intent

	RetrievedChunks []RankedChunk
	RerankedChunks  []RankedChunk

	Answer       string
	Sources      []CitedSource
	ResponseType string

	// Conversational mode only.
	ThreadID string
	Messages []Message

	Debug     bool
	DebugInfo map[string]any
}

// EffectiveQuery returns the query string retrieval and reranking operate on:
// the reformulated query when present, the original otherwise.
func (s *RAGState) EffectiveQuery() string {
	if s.ReformulatedQuery != "" {
		return s.ReformulatedQuery
	}
	return s.Query
}
