package model

// SourceType distinguishes corpus documents from web search results.
const (
	SourceDocument = "document"
	SourceWeb      = "web"
)

// Chunk is a retrievable text unit from the indexed corpus.
// Text is the user-visible content; the context fields are embedding-time
// enrichments and are never rendered into prompts or answers.
type Chunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Filename  string `json:"filename"`
	Page      string `json:"page"` // page number, "N/A", or "web"
	SourceURL string `json:"sourceUrl"`

	HasContext      bool   `json:"hasContext,omitempty"`
	MasterContext   string `json:"-"`
	DocumentContext string `json:"-"`
	ChunkContext    string `json:"-"`

	SourceType string `json:"sourceType"` // "document" or "web"
}

// RankedChunk is a Chunk plus the per-query scores attached by the
// retrieval and reranking stages.
type RankedChunk struct {
	Chunk
	RetrievalScore float64 `json:"retrievalScore"`
	RerankScore    float64 `json:"rerankScore"` // in [0,1], from the LLM judge
}

// CitedSource is a source actually cited in a generated answer.
// Doc is the 1-based [Doc N] number assigned in the generation prompt.
type CitedSource struct {
	Doc      int    `json:"doc"`
	Filename string `json:"filename"`
	Page     string `json:"page"`
	URL      string `json:"url"`
}
