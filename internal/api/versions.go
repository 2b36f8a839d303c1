package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/graph"
)

func handleVersions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := deps.Versions.AllVersions(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, nodes)
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Versions.History(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if records == nil {
			records = []graph.ContentVersion{}
		}
		writeJSON(w, records)
	}
}

func handleVersionTree(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tree, err := deps.Versions.VersionTree(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, tree)
	}
}

type revertRequest struct {
	Version    int    `json:"version"`
	OperatorID string `json:"operator_id"`
}

func handleRevert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req revertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Version <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "version must be positive")
			return
		}

		node, err := deps.Versions.Revert(chi.URLParam(r, "id"), req.Version, req.OperatorID)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, node)
	}
}

type forkRequest struct {
	OperatorID string `json:"operator_id"`
}

func handleFork(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req forkRequest
		// An empty body is fine; fork has no required parameters.
		_ = json.NewDecoder(r.Body).Decode(&req)

		node, err := deps.Versions.Fork(chi.URLParam(r, "id"), req.OperatorID)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, node)
	}
}

func handleDiff(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		if from == "" || to == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from and to are required")
			return
		}

		diff, err := deps.Versions.Diff(from, to)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"diff": diff})
	}
}
