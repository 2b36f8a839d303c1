package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/loomkit/loom/internal/graph"
)

func TestHybrid_FusesBothLegs(t *testing.T) {
	emb := &fakeEmbedder{dims: 3, vectors: map[string][]float32{
		"heron": {1, 0, 0},
	}}
	store, vectors, r := openTestRetriever(t, emb)

	// Found by both legs: mentions the keyword and points at the query vector.
	both := embeddedNode(t, store, vectors, "the heron stands in the shallows", []float32{1, 0, 0})
	// Keyword leg only.
	kwOnly := embeddedNode(t, store, vectors, "a heron sighting logged at dawn", []float32{0, 1, 0})
	// Semantic leg only.
	semOnly := embeddedNode(t, store, vectors, "a tall grey wading bird", []float32{0.9, 0.1, 0})

	results, err := r.Hybrid(context.Background(), "heron", HybridOptions{})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Node.ID != both.ID {
		t.Errorf("top result = %q, want the node both legs found", results[0].Node.Text)
	}
	found := map[string]bool{}
	for _, res := range results {
		found[res.Node.ID] = true
	}
	if !found[kwOnly.ID] || !found[semOnly.ID] {
		t.Errorf("single-leg results missing: %v", found)
	}
}

func TestHybrid_TopKCap(t *testing.T) {
	emb := &fakeEmbedder{dims: 3, vectors: map[string][]float32{
		"heron": {1, 0, 0},
	}}
	store, vectors, r := openTestRetriever(t, emb)

	for i := 0; i < 5; i++ {
		embeddedNode(t, store, vectors, fmt.Sprintf("heron note number %d", i), []float32{1, 0, 0})
	}

	results, err := r.Hybrid(context.Background(), "heron", HybridOptions{TopK: 2})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestHybrid_SurvivesSemanticLegFailure(t *testing.T) {
	store, vectors, r := openTestRetriever(t, &fakeEmbedder{})

	n := embeddedNode(t, store, vectors, "keyword only heron", []float32{1, 0, 0})

	results, err := r.Hybrid(context.Background(), "heron", HybridOptions{})
	if err != nil {
		t.Fatalf("Hybrid with broken embedder: %v", err)
	}
	if len(results) != 1 || results[0].Node.ID != n.ID {
		t.Errorf("results = %+v, want the keyword hit", results)
	}
}

func TestFuse(t *testing.T) {
	a := graph.ContentNode{ID: "a"}
	b := graph.ContentNode{ID: "b"}
	c := graph.ContentNode{ID: "c"}

	keyword := []graph.SearchHit{{Node: a}, {Node: b}}
	semantic := []Result{{Node: a}, {Node: c}}

	fused := fuse(keyword, semantic, 1, 1)
	if len(fused) != 3 {
		t.Fatalf("fused %d nodes, want 3", len(fused))
	}
	// a appears in both lists at rank 1, so it accumulates both contributions.
	if fused[0].Node.ID != "a" {
		t.Errorf("top = %q, want a", fused[0].Node.ID)
	}
	wantA := 2.0 / float64(rrfK+1)
	if fused[0].Score != wantA {
		t.Errorf("score(a) = %f, want %f", fused[0].Score, wantA)
	}
	// b and c tie on score; the ID breaks the tie.
	if fused[1].Node.ID != "b" || fused[2].Node.ID != "c" {
		t.Errorf("tail order = %q, %q", fused[1].Node.ID, fused[2].Node.ID)
	}

	// Weights shift the balance: keyword-heavy fusion puts b over c.
	weighted := fuse(keyword, semantic, 3, 1)
	if weighted[1].Node.ID != "b" {
		t.Errorf("keyword-weighted second = %q, want b", weighted[1].Node.ID)
	}
	if weighted[1].Score <= weighted[2].Score {
		t.Errorf("weighting had no effect: %f vs %f", weighted[1].Score, weighted[2].Score)
	}
}
