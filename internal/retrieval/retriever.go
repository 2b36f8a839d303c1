// Package retrieval finds relevant content nodes for a query. It layers
// three strategies over the graph store: plain semantic similarity, hybrid
// keyword+semantic fusion, and staged coarse-to-fine search down the summary
// pyramid, with an optional quality gate on the final results.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/loomkit/loom/internal/graph"
)

// Result is one retrieved node with its relevance score. Score semantics
// depend on the strategy: cosine similarity for semantic search, fused RRF
// score for hybrid and staged search.
type Result struct {
	Node  graph.ContentNode `json:"node"`
	Score float64           `json:"score"`
}

// Retriever combines the embedder, the vector index, and the full-text index
// into the retrieval strategies.
type Retriever struct {
	store    *graph.Store
	vectors  *VectorIndex
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Retriever. A nil logger falls back to slog.Default.
func New(store *graph.Store, vectors *VectorIndex, embedder Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, vectors: vectors, embedder: embedder, logger: logger}
}

// noFilter matches every embedded node.
var noFilter = VectorFilter{MinLevel: -1, MaxLevel: -1}

// Semantic embeds the query and returns the top-K nodes by cosine
// similarity. Nodes scoring below threshold are dropped; a node exactly at
// the threshold is kept.
func (r *Retriever) Semantic(ctx context.Context, query string, topK int, threshold float32) ([]Result, error) {
	return r.semanticFiltered(ctx, query, topK, threshold, noFilter)
}

func (r *Retriever) semanticFiltered(ctx context.Context, query string, topK int, threshold float32, filter VectorFilter) ([]Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.vectors.Search(vec, topK, filter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		if s.Score < threshold {
			continue
		}
		node, err := r.store.GetNode(s.NodeID)
		if err == graph.ErrNotFound {
			// Vector outlived its node; skip rather than fail the query.
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Node: node, Score: float64(s.Score)})
	}
	return results, nil
}
