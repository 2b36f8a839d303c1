// Package ingest runs the background worker that turns queued embed jobs
// into stored vectors.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomkit/loom/internal/graph"
)

// JobStore abstracts the job queue and node operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*graph.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetNode(id string) (graph.ContentNode, error)
	MarkEmbedded(id, model, textHash string) error
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// VectorUpserter stores one vector per node.
type VectorUpserter interface {
	Upsert(nodeID string, vector []float32, model string) error
}

// Worker processes embed_node jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder Embedder
	vectors  VectorUpserter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder Embedder, vectors VectorUpserter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_node job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"embed_node"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	NodeID string `json:"node_id"`
}

func (w *Worker) processJob(ctx context.Context, job *graph.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	node, err := w.store.GetNode(payload.NodeID)
	if err == graph.ErrNotFound {
		// Node deleted between enqueue and claim; nothing to embed.
		w.logger.Debug("embed target gone", "node_id", payload.NodeID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading node %s: %w", payload.NodeID, err)
	}

	textHash := graph.ContentHash(node.Text)
	if node.EmbeddingTextHash == textHash && node.EmbeddingModel == w.embedder.Model() {
		// Already embedded for this exact text; re-enqueued jobs are cheap
		// no-ops.
		return nil
	}

	vec, err := w.embedder.Embed(ctx, node.Text)
	if err != nil {
		return fmt.Errorf("embedding node %s: %w", node.ID, err)
	}

	if err := w.vectors.Upsert(node.ID, vec, w.embedder.Model()); err != nil {
		return fmt.Errorf("storing vector: %w", err)
	}

	if err := w.store.MarkEmbedded(node.ID, w.embedder.Model(), textHash); err != nil {
		return fmt.Errorf("marking node embedded: %w", err)
	}
	return nil
}
