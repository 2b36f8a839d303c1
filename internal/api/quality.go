package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/graph"
)

const maxBlobSize = 32 << 20 // 32MB

func handleSetQuality(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var q graph.ContentQuality
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		q.NodeID = chi.URLParam(r, "id")
		if err := deps.Store.SetQuality(q); err != nil {
			domainError(w, err)
			return
		}
		stored, err := deps.Store.GetQuality(q.NodeID)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, stored)
	}
}

func handleGetQuality(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := deps.Store.GetQuality(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, q)
	}
}

func handlePutBlob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobSize))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading blob: %v", err)
			return
		}
		hash, err := deps.Store.PutBlob(data)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"hash": hash, "size": len(data)})
	}
}

func handleGetBlob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := deps.Store.GetBlob(chi.URLParam(r, "hash"))
		if err != nil {
			domainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	}
}
