package versions

import (
	"errors"
	"strings"
	"testing"

	"github.com/loomkit/loom/internal/graph"
)

func openTestControl(t *testing.T) (*graph.Store, *Control) {
	t.Helper()
	s, err := graph.Open(":memory:")
	if err != nil {
		t.Fatalf("graph.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, New(s)
}

func buildChain(t *testing.T, s *graph.Store, texts ...string) []graph.ContentNode {
	t.Helper()
	first, err := s.CreateNode(graph.NodeInput{Text: texts[0], SourceType: "note", Title: "Chain"})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	chain := []graph.ContentNode{first}
	for _, text := range texts[1:] {
		tc := text
		next, err := s.UpdateNode(chain[len(chain)-1].ID, graph.NodePatch{Text: &tc}, "edit", "")
		if err != nil {
			t.Fatalf("UpdateNode(%q): %v", text, err)
		}
		chain = append(chain, next)
	}
	return chain
}

func TestAllVersionsAndHistory(t *testing.T) {
	s, c := openTestControl(t)
	chain := buildChain(t, s, "one", "two", "three")

	// Any member of the chain resolves the full chain.
	for _, member := range chain {
		all, err := c.AllVersions(member.ID)
		if err != nil {
			t.Fatalf("AllVersions(%s): %v", member.ID, err)
		}
		if len(all) != 3 {
			t.Fatalf("AllVersions = %d rows, want 3", len(all))
		}
		if all[2].ID != chain[2].ID {
			t.Errorf("last element = %q, want head %q", all[2].ID, chain[2].ID)
		}
	}

	history, err := c.History(chain[0].ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History = %d records, want 3", len(history))
	}
	if history[0].Operation != "create" || history[2].Operation != "edit" {
		t.Errorf("operations = %q...%q", history[0].Operation, history[2].Operation)
	}
}

func TestRevert(t *testing.T) {
	s, c := openTestControl(t)
	chain := buildChain(t, s, "original wording", "edited wording")

	reverted, err := c.Revert(chain[1].ID, 1, "op-9")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if reverted.Text != "original wording" {
		t.Errorf("reverted text = %q", reverted.Text)
	}
	if reverted.VersionNumber != 3 {
		t.Errorf("reverted version = %d, want 3 (history is append-only)", reverted.VersionNumber)
	}
	if reverted.Operation != "revert" {
		t.Errorf("operation = %q, want revert", reverted.Operation)
	}

	// The middle version is still there.
	all, err := c.AllVersions(reverted.ID)
	if err != nil {
		t.Fatalf("AllVersions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("chain length = %d, want 3", len(all))
	}

	// Reverting to the head is a no-op.
	again, err := c.Revert(reverted.ID, 3, "")
	if err != nil {
		t.Fatalf("Revert(head): %v", err)
	}
	if again.ID != reverted.ID {
		t.Errorf("revert to head created a new version")
	}

	if _, err := c.Revert(reverted.ID, 99, ""); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("revert to missing version: err = %v, want ErrNotFound", err)
	}
}

func TestFork(t *testing.T) {
	s, c := openTestControl(t)
	chain := buildChain(t, s, "shared starting point")
	origin := chain[0]

	forked, err := c.Fork(origin.ID, "op-2")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if forked.Text != origin.Text {
		t.Errorf("fork text = %q, want origin's", forked.Text)
	}
	if forked.RootID == origin.RootID {
		t.Error("fork shares the origin's chain root")
	}
	if forked.VersionNumber != 1 {
		t.Errorf("fork version = %d, want 1", forked.VersionNumber)
	}

	links, err := s.GetLinksTo(origin.ID, graph.LinkVersionOf)
	if err != nil {
		t.Fatalf("GetLinksTo: %v", err)
	}
	if len(links) != 1 || links[0].SourceID != forked.ID {
		t.Errorf("fork link = %+v", links)
	}

	// Editing the fork leaves the origin untouched.
	text := "the fork diverges"
	if _, err := s.UpdateNode(forked.ID, graph.NodePatch{Text: &text}, "edit", ""); err != nil {
		t.Fatalf("UpdateNode(fork): %v", err)
	}
	originChain, err := c.AllVersions(origin.ID)
	if err != nil {
		t.Fatalf("AllVersions(origin): %v", err)
	}
	if len(originChain) != 1 {
		t.Errorf("origin chain grew to %d after fork edit", len(originChain))
	}
}

func TestVersionTree_WithFork(t *testing.T) {
	s, c := openTestControl(t)
	chain := buildChain(t, s, "tree v1", "tree v2", "tree v3")

	forked, err := c.Fork(chain[1].ID, "")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	text := "fork v2"
	if _, err := s.UpdateNode(forked.ID, graph.NodePatch{Text: &text}, "edit", ""); err != nil {
		t.Fatalf("UpdateNode(fork): %v", err)
	}

	tree, err := c.VersionTree(chain[2].ID)
	if err != nil {
		t.Fatalf("VersionTree: %v", err)
	}
	if tree.Node.ID != chain[0].ID {
		t.Fatalf("tree root = %q, want chain root %q", tree.Node.ID, chain[0].ID)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("root has %d children, want 1", len(tree.Children))
	}

	// v2 has the linear successor v3 plus the fork branch.
	v2 := tree.Children[0]
	if v2.Node.ID != chain[1].ID {
		t.Fatalf("spine child = %q, want v2", v2.Node.ID)
	}
	if len(v2.Children) != 2 {
		t.Fatalf("v2 has %d children, want 2 (v3 and the fork)", len(v2.Children))
	}
	var sawSpine, sawFork bool
	for _, child := range v2.Children {
		switch {
		case child.Node.ID == chain[2].ID && !child.Fork:
			sawSpine = true
		case child.Fork && child.Node.ID == forked.ID:
			sawFork = true
			if len(child.Children) != 1 {
				t.Errorf("fork subtree has %d children, want 1", len(child.Children))
			}
		}
	}
	if !sawSpine || !sawFork {
		t.Errorf("children of v2: spine=%v fork=%v", sawSpine, sawFork)
	}
}

func TestDiff(t *testing.T) {
	s, c := openTestControl(t)
	chain := buildChain(t, s,
		"the quick brown fox\njumps over the lazy dog\n",
		"the quick brown fox\nleaps over the lazy dog\n",
	)

	diff, err := c.Diff(chain[0].ID, chain[1].ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "-jumps over the lazy dog") || !strings.Contains(diff, "+leaps over the lazy dog") {
		t.Errorf("diff missing changed lines:\n%s", diff)
	}
	if !strings.Contains(diff, "--- v1") || !strings.Contains(diff, "+++ v2") {
		t.Errorf("diff missing version labels:\n%s", diff)
	}

	same, err := c.Diff(chain[0].ID, chain[0].ID)
	if err != nil {
		t.Fatalf("Diff(same): %v", err)
	}
	if same != "" {
		t.Errorf("identical text produced diff %q", same)
	}

	if _, err := c.Diff(chain[0].ID, "missing"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("Diff(missing): err = %v, want ErrNotFound", err)
	}
}
