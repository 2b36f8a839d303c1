// Package api exposes the content graph over an authenticated local HTTP
// API and over MCP for agent access.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomkit/loom/internal/config"
	"github.com/loomkit/loom/internal/graph"
	"github.com/loomkit/loom/internal/harvest"
	"github.com/loomkit/loom/internal/linkgraph"
	"github.com/loomkit/loom/internal/retrieval"
	"github.com/loomkit/loom/internal/versions"
)

// AppDeps holds the wiring for the HTTP API.
type AppDeps struct {
	Store     *graph.Store
	Links     *linkgraph.Graph
	Versions  *versions.Control
	Retriever *retrieval.Retriever
	Harvest   *harvest.Store
	Retrieval config.RetrievalConfig
	Token     string
	Logger    *slog.Logger
}

// NewAppHandler builds the authenticated application router.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/nodes", handleCreateNode(deps))
	r.Get("/nodes", handleQueryNodes(deps))
	r.Get("/nodes/{id}", handleGetNode(deps))
	r.Patch("/nodes/{id}", handleUpdateNode(deps))
	r.Delete("/nodes/{id}", handleDeleteNode(deps))

	r.Get("/nodes/{id}/links", handleNodeLinks(deps))
	r.Get("/nodes/{id}/related", handleRelated(deps))
	r.Get("/nodes/{id}/derivatives", handleDerivatives(deps))
	r.Get("/nodes/{id}/lineage", handleLineage(deps))

	r.Get("/nodes/{id}/versions", handleVersions(deps))
	r.Get("/nodes/{id}/history", handleHistory(deps))
	r.Get("/nodes/{id}/tree", handleVersionTree(deps))
	r.Post("/nodes/{id}/revert", handleRevert(deps))
	r.Post("/nodes/{id}/fork", handleFork(deps))
	r.Get("/diff", handleDiff(deps))

	r.Put("/nodes/{id}/quality", handleSetQuality(deps))
	r.Get("/nodes/{id}/quality", handleGetQuality(deps))

	r.Post("/blobs", handlePutBlob(deps))
	r.Get("/blobs/{hash}", handleGetBlob(deps))

	r.Post("/links", handleCreateLink(deps))
	r.Delete("/links/{id}", handleDeleteLink(deps))

	r.Get("/graph/path", handleFindPath(deps))
	r.Get("/graph/clusters", handleClusters(deps))

	r.Get("/search", handleSearch(deps))
	r.Get("/keyword", handleKeyword(deps))

	r.Post("/migrate", handleMigrate(deps))
	r.Get("/migrate/status", handleMigrateStatus(deps))
	r.Get("/stats", handleStats(deps))

	r.Post("/books", handleCreateBook(deps))
	r.Get("/books", handleListBooks(deps))
	r.Get("/books/{id}", handleGetBook(deps))
	r.Get("/books/{id}/passages", handleBookPassages(deps))

	r.Post("/buckets", handleCreateBucket(deps))
	r.Get("/buckets", handleListBuckets(deps))
	r.Get("/buckets/{id}", handleGetBucket(deps))
	r.Get("/buckets/{id}/passages", handleBucketPassages(deps))
	r.Post("/buckets/{id}/collect", handleCollect(deps))
	r.Post("/buckets/{id}/finish-collecting", handleFinishCollecting(deps))
	r.Post("/buckets/{id}/passages/{passageID}/approve", handleCuration(deps, "approve"))
	r.Post("/buckets/{id}/passages/{passageID}/reject", handleCuration(deps, "reject"))
	r.Post("/buckets/{id}/passages/{passageID}/gem", handleCuration(deps, "gem"))
	r.Post("/buckets/{id}/passages/{passageID}/undo", handleCuration(deps, "undo"))
	r.Post("/buckets/{id}/stage", handleStage(deps))
	r.Post("/buckets/{id}/commit", handleCommit(deps))
	r.Post("/buckets/{id}/discard", handleDiscard(deps))

	return r
}
