package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/graph"
)

type createNodeRequest struct {
	Text           string            `json:"text"`
	Format         string            `json:"format"`
	Title          string            `json:"title"`
	Author         string            `json:"author"`
	Language       string            `json:"language"`
	Tags           []string          `json:"tags"`
	SourceMetadata map[string]string `json:"source_metadata"`

	URI              string `json:"uri"`
	SourceType       string `json:"source_type"`
	SourceAdapter    string `json:"source_adapter"`
	SourceOriginalID string `json:"source_original_id"`

	ParentNodeID   string `json:"parent_node_id"`
	ChunkIndex     int    `json:"chunk_index"`
	HierarchyLevel int    `json:"hierarchy_level"`
	ThreadRootID   string `json:"thread_root_id"`

	OperatorID string `json:"operator_id"`
}

func handleCreateNode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createNodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		node, err := deps.Store.CreateNode(graph.NodeInput{
			Text:             req.Text,
			Format:           req.Format,
			Title:            req.Title,
			Author:           req.Author,
			Language:         req.Language,
			Tags:             req.Tags,
			SourceMetadata:   req.SourceMetadata,
			URI:              req.URI,
			SourceType:       req.SourceType,
			SourceAdapter:    req.SourceAdapter,
			SourceOriginalID: req.SourceOriginalID,
			ParentNodeID:     req.ParentNodeID,
			ChunkIndex:       req.ChunkIndex,
			HierarchyLevel:   req.HierarchyLevel,
			ThreadRootID:     req.ThreadRootID,
			OperatorID:       req.OperatorID,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, node)
	}
}

func handleGetNode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			node graph.ContentNode
			err  error
		)
		if uri := r.URL.Query().Get("uri"); uri != "" {
			node, err = deps.Store.GetNodeByURI(uri)
		} else {
			node, err = deps.Store.GetNode(chi.URLParam(r, "id"))
		}
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, node)
	}
}

func handleQueryNodes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := graph.NodeFilter{
			SourceType:   q.Get("source_type"),
			ThreadRootID: q.Get("thread_root"),
			ImportBatch:  q.Get("import_batch"),
			Limit:        parseIntParam(r, "limit", 100, 1000),
			Offset:       parseIntParam(r, "offset", 0, 0),
		}
		if tags, ok := q["tag"]; ok {
			filter.Tags = tags
		}
		if lv := q.Get("level"); lv != "" {
			level := parseIntParam(r, "level", 0, 0)
			filter.HierarchyLevel = &level
		}
		if after := q.Get("created_after"); after != "" {
			t, err := time.Parse(time.RFC3339, after)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid created_after: %v", err)
				return
			}
			filter.CreatedAfter = t
		}
		if before := q.Get("created_before"); before != "" {
			t, err := time.Parse(time.RFC3339, before)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid created_before: %v", err)
				return
			}
			filter.CreatedBefore = t
		}

		nodes, err := deps.Store.QueryNodes(filter)
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

type updateNodeRequest struct {
	Text       *string  `json:"text"`
	Title      *string  `json:"title"`
	Rendered   *string  `json:"rendered"`
	Tags       []string `json:"tags"`
	Operation  string   `json:"operation"`
	OperatorID string   `json:"operator_id"`
}

func handleUpdateNode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateNodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Operation == "" {
			req.Operation = "edit"
		}

		node, err := deps.Store.UpdateNode(chi.URLParam(r, "id"), graph.NodePatch{
			Text:     req.Text,
			Title:    req.Title,
			Rendered: req.Rendered,
			Tags:     req.Tags,
		}, req.Operation, req.OperatorID)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, node)
	}
}

func handleDeleteNode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existed, err := deps.Store.DeleteNode(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if !existed {
			httpError(w, http.StatusNotFound, "not_found", "node not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
