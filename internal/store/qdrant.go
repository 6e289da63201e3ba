// Package store provides a read-only client over the indexed policy corpus
// in Qdrant. The corpus is written by the offline ingestion pipeline; this
// client only queries it.
package store

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

const (
	// rrfConstant is the standard Reciprocal Rank Fusion constant.
	rrfConstant = 60
	// keywordOverfetch widens the keyword candidate pool before client-side
	// lexical scoring trims it back to k.
	keywordOverfetch = 3
)

// Filter restricts a search to matching chunks. Zero value matches all.
type Filter struct {
	Filename         string // equality on filename
	FilenameContains string // full-text match on filename
	TextContains     string // full-text match on text
}

// Store is a read-only Qdrant chunk store client.
type Store struct {
	client     *qdrant.Client
	collection string
}

// New connects to Qdrant at url ("host:port"; port defaults to 6334).
func New(url, apiKey, collection string) (*Store, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("store.New: invalid port in qdrant url %q: %w", url, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("store.New: %w", err)
	}

	return &Store{client: client, collection: collection}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.client.Close() }

// DenseSearch returns the k nearest chunks by cosine similarity, highest
// first. Candidates below minScore are dropped server-side.
func (s *Store) DenseSearch(ctx context.Context, embedding []float32, k int, minScore float64, f *Filter) ([]model.RankedChunk, error) {
	points, err := withRetry(ctx, "store.DenseSearch", func() ([]*qdrant.ScoredPoint, error) {
		return s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			ScoreThreshold: qdrant.PtrOf(float32(minScore)),
			Filter:         buildFilter(f),
		})
	})
	if err != nil {
		return nil, storeError("store.DenseSearch", err)
	}

	chunks := make([]model.RankedChunk, 0, len(points))
	for _, p := range points {
		chunks = append(chunks, model.RankedChunk{
			Chunk:          chunkFromPayload(pointID(p.Id), p.Payload),
			RetrievalScore: float64(p.Score),
		})
	}
	return chunks, nil
}

// KeywordSearch returns up to k chunks matching the query text, ranked by a
// client-side lexical score over the full-text candidate set.
func (s *Store) KeywordSearch(ctx context.Context, text string, k int, f *Filter) ([]model.RankedChunk, error) {
	filter := buildFilter(f)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Must = append(filter.Must, qdrant.NewMatchText("text", text))

	points, err := withRetry(ctx, "store.KeywordSearch", func() ([]*qdrant.RetrievedPoint, error) {
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(k * keywordOverfetch)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return resp, err
	})
	if err != nil {
		return nil, storeError("store.KeywordSearch", err)
	}

	chunks := make([]model.RankedChunk, 0, len(points))
	for _, p := range points {
		c := chunkFromPayload(pointID(p.Id), p.Payload)
		chunks = append(chunks, model.RankedChunk{
			Chunk:          c,
			RetrievalScore: lexicalScore(text, c.Text),
		})
	}
	SortRanked(chunks)
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks, nil
}

// HybridSearch fuses dense and keyword results with Reciprocal Rank Fusion
// (c=60) and returns the top k by fused score.
func (s *Store) HybridSearch(ctx context.Context, embedding []float32, text string, k int, f *Filter) ([]model.RankedChunk, error) {
	dense, err := s.DenseSearch(ctx, embedding, k, 0, f)
	if err != nil {
		return nil, err
	}
	keyword, err := s.KeywordSearch(ctx, text, k, f)
	if err != nil {
		return nil, err
	}

	fused := FuseRRF(dense, keyword)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// FuseRRF merges ranked lists by Reciprocal Rank Fusion:
// fused(d) = sum over lists of 1/(c + rank(d)), c=60.
func FuseRRF(lists ...[]model.RankedChunk) []model.RankedChunk {
	scores := make(map[string]float64)
	items := make(map[string]model.RankedChunk)

	for _, list := range lists {
		for rank, item := range list {
			id := item.ID
			scores[id] += 1.0 / float64(rrfConstant+rank+1)
			if _, exists := items[id]; !exists {
				items[id] = item
			}
		}
	}

	fused := make([]model.RankedChunk, 0, len(items))
	for id, item := range items {
		item.RetrievalScore = scores[id]
		fused = append(fused, item)
	}
	SortRanked(fused)
	return fused
}

// SortRanked orders chunks by retrieval score descending, breaking ties by
// (filename, page, id) ascending so results are deterministic.
func SortRanked(chunks []model.RankedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].RetrievalScore != chunks[j].RetrievalScore {
			return chunks[i].RetrievalScore > chunks[j].RetrievalScore
		}
		if chunks[i].Filename != chunks[j].Filename {
			return chunks[i].Filename < chunks[j].Filename
		}
		if chunks[i].Page != chunks[j].Page {
			return chunks[i].Page < chunks[j].Page
		}
		return chunks[i].ID < chunks[j].ID
	})
}

// lexicalScore is a BM25-flavored overlap score: the fraction of query terms
// present in the text, weighted by term frequency saturation.
func lexicalScore(query, text string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)

	var score float64
	for _, term := range terms {
		tf := float64(strings.Count(lower, term))
		if tf > 0 {
			// saturate term frequency: tf/(tf+1) stays in (0,1)
			score += tf / (tf + 1)
		}
	}
	return score / float64(len(terms))
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	if f.Filename != "" {
		must = append(must, qdrant.NewMatch("filename", f.Filename))
	}
	if f.FilenameContains != "" {
		must = append(must, qdrant.NewMatchText("filename", f.FilenameContains))
	}
	if f.TextContains != "" {
		must = append(must, qdrant.NewMatchText("text", f.TextContains))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// chunkFromPayload maps a Qdrant payload to the chunk schema. Page may be
// stored as a string or an integer; both normalize to string.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) model.Chunk {
	c := model.Chunk{ID: id, Page: "N/A", SourceType: model.SourceDocument}
	if payload == nil {
		return c
	}

	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["filename"]; ok {
		c.Filename = v.GetStringValue()
	}
	if v, ok := payload["page"]; ok {
		if s := v.GetStringValue(); s != "" {
			c.Page = s
		} else if _, isInt := v.GetKind().(*qdrant.Value_IntegerValue); isInt {
			c.Page = strconv.FormatInt(v.GetIntegerValue(), 10)
		}
	}
	if v, ok := payload["source_url"]; ok {
		c.SourceURL = v.GetStringValue()
	}
	if v, ok := payload["has_context"]; ok {
		c.HasContext = v.GetBoolValue()
	}
	if v, ok := payload["master_context"]; ok {
		c.MasterContext = v.GetStringValue()
	}
	if v, ok := payload["document_context"]; ok {
		c.DocumentContext = v.GetStringValue()
	}
	if v, ok := payload["chunk_context"]; ok {
		c.ChunkContext = v.GetStringValue()
	}
	return c
}

func storeError(op string, err error) error {
	return model.NewError(model.KindUpstreamUnavailable, op, "", err)
}
