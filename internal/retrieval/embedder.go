package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder produces embedding vectors for text. The production implementation
// talks to a local model server; tests substitute a deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// EmbedBatch embeds multiple texts concurrently with bounded parallelism.
// Returns nil (not error) for empty input.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the model server.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
