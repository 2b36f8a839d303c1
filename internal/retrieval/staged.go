package retrieval

import (
	"context"
	"sort"
)

// StagedOptions tunes the coarse-to-fine strategy.
type StagedOptions struct {
	Hybrid     HybridOptions
	MaxThreads int // threads carried from the coarse stage into the fine stage
}

// Staged searches the summary pyramid coarse-to-fine: a hybrid pass over
// summary levels picks the most promising threads, then a second hybrid pass
// ranks the level-0 chunks inside those threads. When the corpus has no
// summaries (or the coarse stage finds nothing), it falls back to a flat
// hybrid search so a sparse corpus still answers.
func (r *Retriever) Staged(ctx context.Context, query string, opts StagedOptions) ([]Result, error) {
	opts.Hybrid.normalize()
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = 5
	}

	coarse, err := r.hybridFiltered(ctx, query, opts.Hybrid, VectorFilter{MinLevel: 1, MaxLevel: -1}, nil)
	if err != nil {
		return nil, err
	}

	threads := topThreads(coarse, opts.MaxThreads)
	if len(threads) == 0 {
		r.logger.Debug("coarse stage empty, flat hybrid fallback", "query_len", len(query))
		return r.Hybrid(ctx, query, opts.Hybrid)
	}

	fine, err := r.hybridFiltered(ctx, query, opts.Hybrid,
		VectorFilter{MinLevel: 0, MaxLevel: 0, ThreadRoots: threads}, threads)
	if err != nil {
		return nil, err
	}
	if len(fine) == 0 {
		return r.Hybrid(ctx, query, opts.Hybrid)
	}
	return fine, nil
}

// topThreads collects thread roots from coarse results in best-score order.
// A summary that is itself a thread root counts as its own thread.
func topThreads(coarse []Result, max int) []string {
	bestScore := make(map[string]float64)
	for _, res := range coarse {
		root := res.Node.ThreadRootID
		if root == "" {
			root = res.Node.ID
		}
		if s, ok := bestScore[root]; !ok || res.Score > s {
			bestScore[root] = res.Score
		}
	}

	threads := make([]string, 0, len(bestScore))
	for root := range bestScore {
		threads = append(threads, root)
	}
	sort.Slice(threads, func(i, j int) bool {
		if bestScore[threads[i]] != bestScore[threads[j]] {
			return bestScore[threads[i]] > bestScore[threads[j]]
		}
		return threads[i] < threads[j]
	})
	if len(threads) > max {
		threads = threads[:max]
	}
	return threads
}
