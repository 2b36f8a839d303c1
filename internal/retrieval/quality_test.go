package retrieval

import (
	"fmt"
	"strings"
	"testing"

	"github.com/loomkit/loom/internal/graph"
)

const longBody = "The annual migration survey covered fourteen wetland sites along the eastern flyway. " +
	"Volunteers recorded arrival dates, roost counts, and weather conditions at each site. " +
	"Counts rose steadily through September and peaked in the second week of October."

func gateNode(t *testing.T, s *graph.Store, text string) graph.ContentNode {
	t.Helper()
	n, err := s.CreateNode(graph.NodeInput{Text: text, SourceType: "note"})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	return n
}

func asResults(nodes ...graph.ContentNode) []Result {
	out := make([]Result, len(nodes))
	for i, n := range nodes {
		out[i] = Result{Node: n, Score: 1.0 / float64(i+1)}
	}
	return out
}

func TestGate_ExpandsShortChunks(t *testing.T) {
	store, _, r := openTestRetriever(t, &fakeEmbedder{dims: 3})

	parent, err := store.CreateNode(graph.NodeInput{Text: longBody, SourceType: "document"})
	if err != nil {
		t.Fatalf("CreateNode(parent): %v", err)
	}
	chunk, err := store.CreateNode(graph.NodeInput{
		Text:         "Counts peaked in October.",
		SourceType:   "document",
		ParentNodeID: parent.ID,
	})
	if err != nil {
		t.Fatalf("CreateNode(chunk): %v", err)
	}

	policy := GatePolicy{MinWords: 10, ExpandShort: true}
	gated, err := r.Gate("migration counts", asResults(chunk), policy)
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.Passed != 1 || gated.Stats.Expanded != 1 {
		t.Fatalf("stats = %+v", gated.Stats)
	}
	got := gated.Results[0]
	if got.Node.ID != parent.ID || !got.Expanded {
		t.Errorf("chunk not expanded to parent: %+v", got.Result.Node.ID)
	}

	// Without expansion the short chunk is simply dropped.
	policy.ExpandShort = false
	gated, err = r.Gate("migration counts", asResults(chunk), policy)
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.Passed != 0 || gated.Stats.TooShort != 1 {
		t.Errorf("stats without expansion = %+v", gated.Stats)
	}
}

func TestGate_ExcludesStubs(t *testing.T) {
	store, _, r := openTestRetriever(t, &fakeEmbedder{dims: 3})

	stub := gateNode(t, store, longBody+" This copy is the navigation stub.")
	real := gateNode(t, store, longBody)
	if err := store.SetQuality(graph.ContentQuality{NodeID: stub.ID, StubType: "navigation"}); err != nil {
		t.Fatalf("SetQuality: %v", err)
	}

	gated, err := r.Gate("", asResults(stub, real), GatePolicy{MinWords: 5, ExcludeStubs: true})
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.StubsExcluded != 1 || gated.Stats.Passed != 1 {
		t.Fatalf("stats = %+v", gated.Stats)
	}
	if gated.Results[0].Node.ID != real.ID {
		t.Errorf("survivor = %q", gated.Results[0].Node.ID)
	}
}

func TestGate_GradeThreshold(t *testing.T) {
	store, _, r := openTestRetriever(t, &fakeEmbedder{dims: 3})
	n := gateNode(t, store, longBody)

	gated, err := r.Gate("", asResults(n), GatePolicy{MinWords: 5, MinGrade: 0.99})
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.BelowGrade != 1 || gated.Stats.Passed != 0 {
		t.Errorf("stats = %+v", gated.Stats)
	}

	// A permissive cutoff passes the same node and reports its breakdown.
	gated, err = r.Gate("migration survey", asResults(n), GatePolicy{MinWords: 5})
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.Passed != 1 {
		t.Fatalf("stats = %+v", gated.Stats)
	}
	g := gated.Results[0]
	if g.Grade <= 0 || g.Specificity <= 0 || g.Coherence <= 0 || g.Substance <= 0 {
		t.Errorf("grade breakdown = %+v", g)
	}
}

func TestGate_PerSourceCap(t *testing.T) {
	store, _, r := openTestRetriever(t, &fakeEmbedder{dims: 3})

	var nodes []graph.ContentNode
	for i := 0; i < 3; i++ {
		nodes = append(nodes, gateNode(t, store, fmt.Sprintf("%s Entry number %d.", longBody, i)))
	}

	gated, err := r.Gate("", asResults(nodes...), GatePolicy{MinWords: 5, MaxPerSource: 1})
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if gated.Stats.Passed != 1 || gated.Stats.SourceCapped != 2 {
		t.Fatalf("stats = %+v", gated.Stats)
	}
	// The best-ranked candidate wins the slot.
	if gated.Results[0].Node.ID != nodes[0].ID {
		t.Errorf("survivor = %q", gated.Results[0].Node.ID)
	}
	if gated.Stats.BySource["note"] != 1 {
		t.Errorf("BySource = %v", gated.Stats.BySource)
	}
}

func TestSentenceCoherence(t *testing.T) {
	readable := sentenceCoherence("The survey covered fourteen sites this year. Counts rose steadily through early September.")
	if readable != 1 {
		t.Errorf("readable text scored %f", readable)
	}
	staccato := sentenceCoherence("Yes. No. Maybe. Later.")
	if staccato != 0 {
		t.Errorf("staccato text scored %f", staccato)
	}
	wall := sentenceCoherence(strings.Repeat("word ", 100))
	if wall != 0 {
		t.Errorf("unpunctuated wall scored %f", wall)
	}
	if sentenceCoherence("") != 0 {
		t.Error("empty text scored nonzero")
	}
}
