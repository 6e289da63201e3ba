// Package graph is a minimal typed pipeline engine: named nodes, static
// edges, and conditional routing. Nodes return partial-state patches which
// the runner merges into a single RAGState. Execution is single-threaded
// per request; concurrency across requests belongs to the server runtime.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// End is the terminal pseudo-node name.
const End = "END"

// Patch is a partial state update produced by one node. Nil pointer fields
// leave the corresponding state field untouched; slice fields replace when
// non-nil; AppendMessages and DebugInfo merge.
type Patch struct {
	ReformulatedQuery *string
	Intent            *model.Intent
	RetrievedChunks   []model.RankedChunk
	RerankedChunks    []model.RankedChunk
	Answer            *string
	Sources           []model.CitedSource
	ResponseType      *string
	AppendMessages    []model.Message
	DebugInfo         map[string]any
}

func (p Patch) apply(s *model.RAGState) {
	if p.ReformulatedQuery != nil {
		s.ReformulatedQuery = *p.ReformulatedQuery
	}
	if p.Intent != nil {
		s.Intent = *p.Intent
	}
	if p.RetrievedChunks != nil {
		s.RetrievedChunks = p.RetrievedChunks
	}
	if p.RerankedChunks != nil {
		s.RerankedChunks = p.RerankedChunks
	}
	if p.Answer != nil {
		s.Answer = *p.Answer
	}
	if p.Sources != nil {
		s.Sources = p.Sources
	}
	if p.ResponseType != nil {
		s.ResponseType = *p.ResponseType
	}
	if len(p.AppendMessages) > 0 {
		s.Messages = append(s.Messages, p.AppendMessages...)
	}
	if len(p.DebugInfo) > 0 {
		if s.DebugInfo == nil {
			s.DebugInfo = make(map[string]any)
		}
		for k, v := range p.DebugInfo {
			s.DebugInfo[k] = v
		}
	}
}

// NodeFunc computes a patch from the current state. Nodes must not mutate
// the state they receive.
type NodeFunc func(ctx context.Context, s model.RAGState) (Patch, error)

// RouterFunc picks the next node name after a conditional node.
type RouterFunc func(s model.RAGState) string

// Graph is an immutable pipeline definition built with the Add* methods
// before the first Run.
type Graph struct {
	entry        string
	nodes        map[string]NodeFunc
	edges        map[string]string
	conditionals map[string]RouterFunc
}

// New creates a Graph with the given entry node.
func New(entry string) *Graph {
	return &Graph{
		entry:        entry,
		nodes:        make(map[string]NodeFunc),
		edges:        make(map[string]string),
		conditionals: make(map[string]RouterFunc),
	}
}

// AddNode registers a node under a name.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge registers a static edge from → to. Use End to terminate.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// AddConditionalEdge registers a router deciding the successor of from.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	g.conditionals[from] = router
	return g
}

// nodeDebug is the per-node record appended to debug_info when the request
// runs with debug enabled.
type nodeDebug struct {
	Node      string `json:"node"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Inputs    string `json:"inputs"`
	Outputs   string `json:"outputs"`
}

// Run executes the graph from the entry node until End, merging each
// node's patch into the state. Cancellation is checked before every node;
// on deadline exceedance the partial state is discarded.
func (g *Graph) Run(ctx context.Context, initial model.RAGState) (model.RAGState, error) {
	state := initial
	current := g.entry

	for current != End {
		if err := ctx.Err(); err != nil {
			return model.RAGState{}, model.NewError(model.KindDeadlineExceeded, "graph.Run",
				fmt.Sprintf("cancelled before node %q", current), err)
		}

		node, ok := g.nodes[current]
		if !ok {
			return model.RAGState{}, fmt.Errorf("graph.Run: unknown node %q", current)
		}

		start := time.Now()
		patch, err := node(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				return model.RAGState{}, model.NewError(model.KindDeadlineExceeded, "graph.Run",
					fmt.Sprintf("node %q interrupted", current), ctx.Err())
			}
			return model.RAGState{}, fmt.Errorf("graph.Run: node %q: %w", current, err)
		}

		if state.Debug {
			if patch.DebugInfo == nil {
				patch.DebugInfo = make(map[string]any)
			}
			patch.DebugInfo["node:"+current] = nodeDebug{
				Node:      current,
				ElapsedMs: time.Since(start).Milliseconds(),
				Inputs:    summarizeState(state),
				Outputs:   summarizePatch(patch),
			}
		}
		patch.apply(&state)

		next, err := g.next(current, state)
		if err != nil {
			return model.RAGState{}, err
		}
		current = next
	}

	return state, nil
}

func (g *Graph) next(current string, state model.RAGState) (string, error) {
	if router, ok := g.conditionals[current]; ok {
		next := router(state)
		if next != End {
			if _, exists := g.nodes[next]; !exists {
				return "", fmt.Errorf("graph.next: router from %q chose unknown node %q", current, next)
			}
		}
		return next, nil
	}
	if next, ok := g.edges[current]; ok {
		return next, nil
	}
	return "", fmt.Errorf("graph.next: node %q has no outgoing edge", current)
}

func summarizeState(s model.RAGState) string {
	return fmt.Sprintf("query=%q intent=%s retrieved=%d reranked=%d",
		s.EffectiveQuery(), s.Intent, len(s.RetrievedChunks), len(s.RerankedChunks))
}

func summarizePatch(p Patch) string {
	out := ""
	if p.ReformulatedQuery != nil {
		out += fmt.Sprintf("reformulated=%q ", *p.ReformulatedQuery)
	}
	if p.Intent != nil {
		out += fmt.Sprintf("intent=%s ", *p.Intent)
	}
	if p.RetrievedChunks != nil {
		out += fmt.Sprintf("retrieved=%d ", len(p.RetrievedChunks))
	}
	if p.RerankedChunks != nil {
		out += fmt.Sprintf("reranked=%d ", len(p.RerankedChunks))
	}
	if p.Answer != nil {
		out += fmt.Sprintf("answer_len=%d ", len(*p.Answer))
	}
	if p.Sources != nil {
		out += fmt.Sprintf("sources=%d ", len(p.Sources))
	}
	return out
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
