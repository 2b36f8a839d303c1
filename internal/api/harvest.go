package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/harvest"
)

type createBookRequest struct {
	Title string `json:"title"`
}

func handleCreateBook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createBookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		book, err := deps.Harvest.CreateBook(req.Title)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, book)
	}
}

func handleListBooks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := deps.Harvest.ListBooks()
		if err != nil {
			domainError(w, err)
			return
		}
		if books == nil {
			books = []harvest.Book{}
		}
		writeJSON(w, books)
	}
}

func handleGetBook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		book, err := deps.Harvest.GetBook(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, book)
	}
}

func handleBookPassages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passages, err := deps.Harvest.BookPassages(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if passages == nil {
			passages = []harvest.BookPassage{}
		}
		writeJSON(w, passages)
	}
}

type createBucketRequest struct {
	BookID string `json:"book_id"`
}

func handleCreateBucket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createBucketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		bucket, err := deps.Harvest.CreateBucket(req.BookID)
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, bucket)
	}
}

func handleListBuckets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buckets, err := deps.Harvest.ListBuckets(r.URL.Query().Get("book_id"))
		if err != nil {
			domainError(w, err)
			return
		}
		if buckets == nil {
			buckets = []harvest.Bucket{}
		}
		writeJSON(w, buckets)
	}
}

func handleGetBucket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket, err := deps.Harvest.GetBucket(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, bucket)
	}
}

func handleBucketPassages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passages, err := deps.Harvest.Passages(chi.URLParam(r, "id"), r.URL.Query().Get("sequence"))
		if err != nil {
			domainError(w, err)
			return
		}
		if passages == nil {
			passages = []harvest.Passage{}
		}
		writeJSON(w, passages)
	}
}

// bucketMutation is the common request body for bucket state changes. The
// version is the bucket version the caller last read; a stale version gets a
// 409 and nothing changes.
type bucketMutation struct {
	Version int    `json:"version"`
	Reason  string `json:"reason"`

	NodeID string `json:"node_id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

func decodeMutation(w http.ResponseWriter, r *http.Request) (bucketMutation, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req bucketMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return bucketMutation{}, false
	}
	if req.Version <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "version is required")
		return bucketMutation{}, false
	}
	return req, true
}

func handleCollect(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		passage, err := deps.Harvest.Collect(chi.URLParam(r, "id"), req.Version, harvest.PassageInput{
			NodeID: req.NodeID,
			Text:   req.Text,
			Source: req.Source,
		})
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, passage)
	}
}

// transitionResult is the envelope for bucket state transitions. A refused
// transition travels as data rather than a bare error so curation clients can
// show it inline and retry with a fresh version.
type transitionResult struct {
	Success bool            `json:"success"`
	Bucket  *harvest.Bucket `json:"bucket,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func writeTransition(w http.ResponseWriter, bucket harvest.Bucket, err error) {
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusForError(err))
		json.NewEncoder(w).Encode(transitionResult{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, transitionResult{Success: true, Bucket: &bucket})
}

func handleFinishCollecting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		bucket, err := deps.Harvest.FinishCollecting(chi.URLParam(r, "id"), req.Version)
		writeTransition(w, bucket, err)
	}
}

func handleCuration(deps AppDeps, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		bucketID := chi.URLParam(r, "id")
		passageID := chi.URLParam(r, "passageID")

		var bucket harvest.Bucket
		var err error
		switch action {
		case "approve":
			bucket, err = deps.Harvest.Approve(bucketID, passageID, req.Version, req.Reason)
		case "reject":
			bucket, err = deps.Harvest.Reject(bucketID, passageID, req.Version, req.Reason)
		case "gem":
			bucket, err = deps.Harvest.MarkGem(bucketID, passageID, req.Version, req.Reason)
		case "undo":
			bucket, err = deps.Harvest.Undo(bucketID, passageID, req.Version)
		}
		writeTransition(w, bucket, err)
	}
}

func handleStage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		bucket, err := deps.Harvest.Stage(chi.URLParam(r, "id"), req.Version)
		writeTransition(w, bucket, err)
	}
}

func handleCommit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		bucket, err := deps.Harvest.Commit(chi.URLParam(r, "id"), req.Version)
		writeTransition(w, bucket, err)
	}
}

func handleDiscard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMutation(w, r)
		if !ok {
			return
		}
		bucket, err := deps.Harvest.Discard(chi.URLParam(r, "id"), req.Version)
		writeTransition(w, bucket, err)
	}
}
