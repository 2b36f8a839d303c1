package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loomkit/loom/internal/graph"
)

// rrfK dampens the influence of rank position in reciprocal rank fusion.
// 60 is the constant from the original RRF paper and works well untuned.
const rrfK = 60

// HybridOptions tunes the hybrid strategy. Zero values take defaults: topK
// 10, equal leg weights, no similarity threshold.
type HybridOptions struct {
	TopK           int
	Threshold      float32
	KeywordWeight  float64
	SemanticWeight float64
}

func (o *HybridOptions) normalize() {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.KeywordWeight == 0 && o.SemanticWeight == 0 {
		o.KeywordWeight = 1
		o.SemanticWeight = 1
	}
}

// Hybrid runs keyword and semantic search in parallel and fuses the two
// rankings with weighted reciprocal rank fusion. If one leg fails the other
// still answers; only both legs failing is an error.
func (r *Retriever) Hybrid(ctx context.Context, query string, opts HybridOptions) ([]Result, error) {
	opts.normalize()
	return r.hybridFiltered(ctx, query, opts, noFilter, nil)
}

// hybridFiltered is Hybrid with vector and full-text restrictions, shared
// with the staged strategy. threadRoots restricts the keyword leg to level-0
// chunks of those threads when non-empty.
func (r *Retriever) hybridFiltered(ctx context.Context, query string, opts HybridOptions, filter VectorFilter, threadRoots []string) ([]Result, error) {
	opts.normalize()
	// Oversample each leg so fusion has overlap to work with.
	legK := opts.TopK * 2

	var (
		wg          sync.WaitGroup
		keywordHits []graph.SearchHit
		semantic    []Result
		keywordErr  error
		semanticErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		switch {
		case len(threadRoots) > 0:
			keywordHits, keywordErr = r.store.SearchChunksInThreads(query, legK, threadRoots)
		case filter.MinLevel >= 1:
			keywordHits, keywordErr = r.store.SearchSummaries(query, legK)
		default:
			keywordHits, keywordErr = r.store.SearchText(query, legK)
		}
	}()
	go func() {
		defer wg.Done()
		semantic, semanticErr = r.semanticFiltered(ctx, query, legK, opts.Threshold, filter)
	}()
	wg.Wait()

	if keywordErr != nil && semanticErr != nil {
		return nil, fmt.Errorf("both search legs failed: keyword: %v; semantic: %v", keywordErr, semanticErr)
	}
	if keywordErr != nil {
		r.logger.Warn("keyword leg failed, semantic only", "error", keywordErr)
	}
	if semanticErr != nil {
		r.logger.Warn("semantic leg failed, keyword only", "error", semanticErr)
	}

	fused := fuse(keywordHits, semantic, opts.KeywordWeight, opts.SemanticWeight)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused, nil
}

// fuse merges the two ranked lists with weighted reciprocal rank fusion:
// each list contributes weight/(rrfK + rank) per node, and nodes found by
// both legs accumulate both contributions.
func fuse(keyword []graph.SearchHit, semantic []Result, kwWeight, semWeight float64) []Result {
	type entry struct {
		node  graph.ContentNode
		score float64
	}
	entries := make(map[string]*entry)

	for rank, hit := range keyword {
		contribution := kwWeight / float64(rrfK+rank+1)
		if e, ok := entries[hit.Node.ID]; ok {
			e.score += contribution
		} else {
			entries[hit.Node.ID] = &entry{node: hit.Node, score: contribution}
		}
	}
	for rank, res := range semantic {
		contribution := semWeight / float64(rrfK+rank+1)
		if e, ok := entries[res.Node.ID]; ok {
			e.score += contribution
		} else {
			entries[res.Node.ID] = &entry{node: res.Node, score: contribution}
		}
	}

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		results = append(results, Result{Node: e.node, Score: e.score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	return results
}
