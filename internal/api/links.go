package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/graph"
)

type createLinkRequest struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Strength    float64 `json:"strength"`
	SourceStart int     `json:"source_start"`
	SourceEnd   int     `json:"source_end"`
	TargetStart int     `json:"target_start"`
	TargetEnd   int     `json:"target_end"`
}

func handleCreateLink(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		link, err := deps.Store.CreateLink(graph.LinkInput{
			SourceID:    req.SourceID,
			TargetID:    req.TargetID,
			Type:        req.Type,
			Strength:    req.Strength,
			SourceStart: req.SourceStart,
			SourceEnd:   req.SourceEnd,
			TargetStart: req.TargetStart,
			TargetEnd:   req.TargetEnd,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, link)
	}
}

func handleDeleteLink(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existed, err := deps.Store.DeleteLink(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if !existed {
			httpError(w, http.StatusNotFound, "not_found", "link not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleNodeLinks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetNode(id); err != nil {
			domainError(w, err)
			return
		}
		types := splitTypes(r.URL.Query().Get("type"))

		direction := r.URL.Query().Get("direction")
		var out, in []graph.ContentLink
		var err error
		if direction == "" || direction == "out" {
			out, err = deps.Store.GetLinksFrom(id, types...)
			if err != nil {
				domainError(w, err)
				return
			}
		}
		if direction == "" || direction == "in" {
			in, err = deps.Store.GetLinksTo(id, types...)
			if err != nil {
				domainError(w, err)
				return
			}
		}
		if out == nil {
			out = []graph.ContentLink{}
		}
		if in == nil {
			in = []graph.ContentLink{}
		}
		writeJSON(w, map[string]any{"outgoing": out, "incoming": in})
	}
}

func handleRelated(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depth := parseIntParam(r, "depth", 1, 5)
		nodes, err := deps.Links.Related(chi.URLParam(r, "id"), depth)
		if err != nil {
			domainError(w, err)
			return
		}
		if nodes == nil {
			nodes = []graph.ContentNode{}
		}
		writeJSON(w, nodes)
	}
}

func handleDerivatives(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := deps.Links.Derivatives(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if nodes == nil {
			nodes = []graph.ContentNode{}
		}
		writeJSON(w, nodes)
	}
}

func handleLineage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := deps.Links.Lineage(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if nodes == nil {
			nodes = []graph.ContentNode{}
		}
		writeJSON(w, nodes)
	}
}

func handleFindPath(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, to := q.Get("from"), q.Get("to")
		if from == "" || to == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from and to are required")
			return
		}
		types := splitTypes(q.Get("type"))
		maxDepth := parseIntParam(r, "max_depth", 6, 10)

		path, err := deps.Links.FindPath(from, to, types, maxDepth)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"found": path != nil,
			"path":  path,
		})
	}
}

func handleClusters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minSize := parseIntParam(r, "min_size", 2, 0)
		maxClusters := parseIntParam(r, "max", 10, 100)

		clusters, err := deps.Links.FindClusters(minSize, maxClusters)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, clusters)
	}
}

func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	types := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, p)
		}
	}
	return types
}
