package linkgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/loomkit/loom/internal/graph"
)

func openTestGraph(t *testing.T) (*graph.Store, *Graph) {
	t.Helper()
	s, err := graph.Open(":memory:")
	if err != nil {
		t.Fatalf("graph.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, New(s)
}

func node(t *testing.T, s *graph.Store, text string) graph.ContentNode {
	t.Helper()
	n, err := s.CreateNode(graph.NodeInput{Text: text, SourceType: "note"})
	if err != nil {
		t.Fatalf("CreateNode(%q): %v", text, err)
	}
	return n
}

func link(t *testing.T, s *graph.Store, from, to graph.ContentNode, typ string) {
	t.Helper()
	if _, err := s.CreateLink(graph.LinkInput{SourceID: from.ID, TargetID: to.ID, Type: typ}); err != nil {
		t.Fatalf("CreateLink(%s -[%s]-> %s): %v", from.ID, typ, to.ID, err)
	}
}

func TestDerivatives(t *testing.T) {
	s, g := openTestGraph(t)

	origin := node(t, s, "the original essay")
	summary := node(t, s, "a summary of the essay")
	fork := node(t, s, "a forked rewrite")
	forkSummary := node(t, s, "summary of the fork")
	unrelated := node(t, s, "something else entirely")

	// Derivation links point derivative -> origin.
	link(t, s, summary, origin, graph.LinkDerivedFrom)
	link(t, s, fork, origin, graph.LinkVersionOf)
	link(t, s, forkSummary, fork, graph.LinkDerivedFrom)
	link(t, s, unrelated, origin, graph.LinkReferences)

	derived, err := g.Derivatives(origin.ID)
	if err != nil {
		t.Fatalf("Derivatives: %v", err)
	}
	got := map[string]bool{}
	for _, n := range derived {
		got[n.ID] = true
	}
	for _, want := range []graph.ContentNode{summary, fork, forkSummary} {
		if !got[want.ID] {
			t.Errorf("derivative %q missing", want.Text)
		}
	}
	if got[unrelated.ID] {
		t.Error("references link treated as derivation")
	}
	if len(derived) != 3 {
		t.Errorf("got %d derivatives, want 3", len(derived))
	}

	if _, err := g.Derivatives("missing"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("Derivatives(missing): err = %v, want ErrNotFound", err)
	}
}

func TestLineage(t *testing.T) {
	s, g := openTestGraph(t)

	v1 := node(t, s, "lineage v1")
	text2 := "lineage v2"
	v2, err := s.UpdateNode(v1.ID, graph.NodePatch{Text: &text2}, "edit", "")
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	text3 := "lineage v3"
	v3, err := s.UpdateNode(v2.ID, graph.NodePatch{Text: &text3}, "edit", "")
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	ancestors, err := g.Lineage(v3.ID)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("got %d ancestors, want 2", len(ancestors))
	}
	if ancestors[0].ID != v2.ID || ancestors[1].ID != v1.ID {
		t.Errorf("lineage order = %q, %q; want immediate parent first", ancestors[0].ID, ancestors[1].ID)
	}

	root, err := g.Lineage(v1.ID)
	if err != nil {
		t.Fatalf("Lineage(root): %v", err)
	}
	if len(root) != 0 {
		t.Errorf("root has %d ancestors, want 0", len(root))
	}
}

func TestRelated_DepthBounds(t *testing.T) {
	s, g := openTestGraph(t)

	// a - b - c - d chain, plus e pointing at a (incoming).
	a := node(t, s, "node a")
	b := node(t, s, "node b")
	c := node(t, s, "node c")
	d := node(t, s, "node d")
	e := node(t, s, "node e")
	link(t, s, a, b, graph.LinkRelatedTo)
	link(t, s, b, c, graph.LinkRelatedTo)
	link(t, s, c, d, graph.LinkRelatedTo)
	link(t, s, e, a, graph.LinkReferences)

	one, err := g.Related(a.ID, 1)
	if err != nil {
		t.Fatalf("Related depth 1: %v", err)
	}
	ids := map[string]bool{}
	for _, n := range one {
		ids[n.ID] = true
	}
	// Both directions count as one hop.
	if len(one) != 2 || !ids[b.ID] || !ids[e.ID] {
		t.Errorf("depth 1 = %v, want {b, e}", ids)
	}

	two, err := g.Related(a.ID, 2)
	if err != nil {
		t.Fatalf("Related depth 2: %v", err)
	}
	if len(two) != 3 {
		t.Errorf("depth 2 returned %d nodes, want 3", len(two))
	}

	all, err := g.Related(a.ID, 10)
	if err != nil {
		t.Fatalf("Related depth 10: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("deep traversal returned %d nodes, want 4", len(all))
	}
}

func TestFindPath(t *testing.T) {
	s, g := openTestGraph(t)

	// Two routes a->d: a-b-d (short) and a-c1-c2-d (long).
	a := node(t, s, "path a")
	b := node(t, s, "path b")
	c1 := node(t, s, "path c1")
	c2 := node(t, s, "path c2")
	d := node(t, s, "path d")
	link(t, s, a, b, graph.LinkRelatedTo)
	link(t, s, b, d, graph.LinkRelatedTo)
	link(t, s, a, c1, graph.LinkReferences)
	link(t, s, c1, c2, graph.LinkReferences)
	link(t, s, c2, d, graph.LinkReferences)

	path, err := g.FindPath(a.ID, d.ID, nil, 0)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if len(path) != 3 {
		t.Fatalf("path length = %d, want 3 (shortest route)", len(path))
	}
	if path[0].ID != a.ID || path[1].ID != b.ID || path[2].ID != d.ID {
		t.Errorf("path = %v", pathIDs(path))
	}

	// Restricting to references forces the long route.
	refPath, err := g.FindPath(a.ID, d.ID, []string{graph.LinkReferences}, 0)
	if err != nil {
		t.Fatalf("FindPath(typed): %v", err)
	}
	if len(refPath) != 4 {
		t.Errorf("typed path length = %d, want 4", len(refPath))
	}

	// Depth bound cuts the search off; nil is a normal outcome.
	none, err := g.FindPath(a.ID, d.ID, []string{graph.LinkReferences}, 2)
	if err != nil {
		t.Fatalf("FindPath(bounded): %v", err)
	}
	if none != nil {
		t.Errorf("bounded search found %v, want nil", pathIDs(none))
	}

	self, err := g.FindPath(a.ID, a.ID, nil, 0)
	if err != nil {
		t.Fatalf("FindPath(self): %v", err)
	}
	if len(self) != 1 || self[0].ID != a.ID {
		t.Errorf("self path = %v", pathIDs(self))
	}
}

func pathIDs(path []graph.ContentNode) []string {
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = n.ID
	}
	return ids
}

func TestFindClusters(t *testing.T) {
	s, g := openTestGraph(t)

	// Component one: three nodes. Component two: two nodes. A loner.
	var big [3]graph.ContentNode
	for i := range big {
		big[i] = node(t, s, fmt.Sprintf("big %d", i))
	}
	link(t, s, big[0], big[1], graph.LinkRelatedTo)
	link(t, s, big[1], big[2], graph.LinkRelatedTo)

	p1 := node(t, s, "pair one")
	p2 := node(t, s, "pair two")
	link(t, s, p1, p2, graph.LinkReferences)

	node(t, s, "loner")

	clusters, err := g.FindClusters(0, 0)
	if err != nil {
		t.Fatalf("FindClusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if clusters[0].Size != 3 || clusters[1].Size != 2 {
		t.Errorf("cluster sizes = %d, %d; want 3, 2", clusters[0].Size, clusters[1].Size)
	}

	// minSize filters the pair out.
	bigOnly, err := g.FindClusters(3, 10)
	if err != nil {
		t.Fatalf("FindClusters(minSize 3): %v", err)
	}
	if len(bigOnly) != 1 || bigOnly[0].Size != 3 {
		t.Errorf("minSize filter = %+v", bigOnly)
	}

	capped, err := g.FindClusters(2, 1)
	if err != nil {
		t.Fatalf("FindClusters(capped): %v", err)
	}
	if len(capped) != 1 {
		t.Errorf("maxClusters cap returned %d clusters", len(capped))
	}
}
