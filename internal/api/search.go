package api

import (
	"net/http"

	"github.com/loomkit/loom/internal/graph"
	"github.com/loomkit/loom/internal/retrieval"
)

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := q.Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		topK := parseIntParam(r, "limit", deps.Retrieval.TopK, 100)
		threshold := float32(parseFloatParam(r, "threshold", deps.Retrieval.Threshold))
		mode := q.Get("mode")
		if mode == "" {
			mode = "hybrid"
		}

		hybridOpts := retrieval.HybridOptions{
			TopK:           topK,
			Threshold:      threshold,
			KeywordWeight:  deps.Retrieval.KeywordWeight,
			SemanticWeight: deps.Retrieval.SemanticWeight,
		}

		var results []retrieval.Result
		var err error
		switch mode {
		case "text":
			var hits []graph.SearchHit
			hits, err = deps.Store.SearchText(query, topK)
			for _, h := range hits {
				results = append(results, retrieval.Result{Node: h.Node, Score: h.Score})
			}
		case "semantic":
			results, err = deps.Retriever.Semantic(r.Context(), query, topK, threshold)
		case "hybrid":
			results, err = deps.Retriever.Hybrid(r.Context(), query, hybridOpts)
		case "staged":
			results, err = deps.Retriever.Staged(r.Context(), query, retrieval.StagedOptions{
				Hybrid:     hybridOpts,
				MaxThreads: deps.Retrieval.MaxThreads,
			})
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown search mode %q", mode)
			return
		}
		if err != nil {
			domainError(w, err)
			return
		}

		if q.Get("gate") == "true" {
			policy := retrieval.DefaultGatePolicy
			policy.MinWords = deps.Retrieval.GateMinWords
			policy.MinGrade = deps.Retrieval.GateMinGrade
			gated, err := deps.Retriever.Gate(query, results, policy)
			if err != nil {
				domainError(w, err)
				return
			}
			writeJSON(w, gated)
			return
		}

		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, map[string]any{"results": results})
	}
}

func handleKeyword(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyword := r.URL.Query().Get("q")
		matches, err := deps.Store.FindByKeyword(keyword, graph.KeywordOptions{
			ExcludeNodeID: r.URL.Query().Get("exclude"),
			Limit:         parseIntParam(r, "limit", 10, 100),
		})
		if err != nil {
			domainError(w, err)
			return
		}
		if matches == nil {
			matches = []graph.KeywordMatch{}
		}
		writeJSON(w, matches)
	}
}
