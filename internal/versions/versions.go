// Package versions exposes the version-control surface of the content graph:
// chain history, fork trees, reverts, and text diffs between versions.
package versions

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/loomkit/loom/internal/graph"
)

// Control operates on version chains stored in a graph.Store.
type Control struct {
	store *graph.Store
}

// New creates a Control over the given store.
func New(store *graph.Store) *Control {
	return &Control{store: store}
}

// AllVersions returns every version row of the chain containing the given
// node, oldest first. The last element is the chain head.
func (c *Control) AllVersions(id string) ([]graph.ContentNode, error) {
	node, err := c.store.GetNode(id)
	if err != nil {
		return nil, err
	}
	return c.store.NodesInChain(node.RootID)
}

// History returns the audit records for the chain containing the given node.
func (c *Control) History(id string) ([]graph.ContentVersion, error) {
	return c.store.VersionRecords(id)
}

// TreeNode is one node of a fork-aware version tree.
type TreeNode struct {
	Node     graph.ContentNode `json:"node"`
	Children []*TreeNode       `json:"children,omitempty"`
	Fork     bool              `json:"fork,omitempty"`
}

// VersionTree builds the version tree rooted at the chain root of the given
// node. Linear history forms a spine of parent/child edges; forks appear as
// extra children at the version they branched from, marked Fork.
func (c *Control) VersionTree(id string) (*TreeNode, error) {
	node, err := c.store.GetNode(id)
	if err != nil {
		return nil, err
	}
	return c.buildTree(node.RootID, map[string]bool{})
}

func (c *Control) buildTree(rootID string, visited map[string]bool) (*TreeNode, error) {
	if visited[rootID] {
		return nil, fmt.Errorf("fork cycle at chain %s", rootID)
	}
	visited[rootID] = true

	chain, err := c.store.NodesInChain(rootID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, graph.ErrNotFound
	}

	byID := make(map[string]*TreeNode, len(chain))
	for i := range chain {
		byID[chain[i].ID] = &TreeNode{Node: chain[i]}
	}

	var root *TreeNode
	for _, tn := range byID {
		if tn.Node.ParentID == "" {
			root = tn
			continue
		}
		parent, ok := byID[tn.Node.ParentID]
		if !ok {
			// Parent outside the chain should not happen; keep the row
			// reachable rather than dropping it.
			root = tn
			continue
		}
		parent.Children = append(parent.Children, tn)
	}
	if root == nil {
		return nil, fmt.Errorf("chain %s has no parentless root", rootID)
	}

	// Forks are separate chains whose root carries a version-of link back
	// into this chain.
	for nodeID, tn := range byID {
		links, err := c.store.GetLinksTo(nodeID, graph.LinkVersionOf)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			forkRoot, err := c.store.GetNode(l.SourceID)
			if err == graph.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			if forkRoot.RootID == rootID || forkRoot.ParentID != "" {
				continue
			}
			sub, err := c.buildTree(forkRoot.RootID, visited)
			if err != nil {
				return nil, err
			}
			sub.Fork = true
			tn.Children = append(tn.Children, sub)
		}
	}
	return root, nil
}

// Revert creates a new head version of the chain carrying the content of the
// given historical version. History is never rewritten; the revert is itself
// an appended version.
func (c *Control) Revert(id string, versionNumber int, operatorID string) (graph.ContentNode, error) {
	chain, err := c.AllVersions(id)
	if err != nil {
		return graph.ContentNode{}, err
	}

	var target *graph.ContentNode
	for i := range chain {
		if chain[i].VersionNumber == versionNumber {
			target = &chain[i]
			break
		}
	}
	if target == nil {
		return graph.ContentNode{}, fmt.Errorf("%w: version %d not in chain", graph.ErrNotFound, versionNumber)
	}

	head := chain[len(chain)-1]
	if head.ID == target.ID {
		return head, nil
	}

	text := target.Text
	title := target.Title
	rendered := target.Rendered
	patch := graph.NodePatch{Text: &text, Title: &title, Rendered: &rendered, Tags: target.Tags}
	return c.store.UpdateNode(head.ID, patch, "revert", operatorID)
}

// Fork starts a new independent chain carrying the given node's content,
// linked back to its origin with a version-of link. The fork's chain has its
// own root; edits to either chain no longer affect the other.
func (c *Control) Fork(id, operatorID string) (graph.ContentNode, error) {
	origin, err := c.store.GetNode(id)
	if err != nil {
		return graph.ContentNode{}, err
	}

	forked, err := c.store.CreateNode(graph.NodeInput{
		Text:           origin.Text,
		Format:         origin.Format,
		Rendered:       origin.Rendered,
		Title:          origin.Title,
		Author:         origin.Author,
		Language:       origin.Language,
		Tags:           origin.Tags,
		SourceMetadata: origin.SourceMetadata,
		URI:            fmt.Sprintf("%s?fork=%s", origin.URI, uuid.New().String()[:8]),
		SourceType:     origin.SourceType,
		SourceAdapter:  origin.SourceAdapter,
		HierarchyLevel: origin.HierarchyLevel,
		ThreadRootID:   origin.ThreadRootID,
		Operation:      "fork",
		OperatorID:     operatorID,
	})
	if err != nil {
		return graph.ContentNode{}, err
	}

	_, err = c.store.CreateLink(graph.LinkInput{
		SourceID: forked.ID,
		TargetID: origin.ID,
		Type:     graph.LinkVersionOf,
		Strength: 1.0,
	})
	if err != nil {
		return graph.ContentNode{}, fmt.Errorf("linking fork to origin: %w", err)
	}
	return forked, nil
}

// Diff returns a unified diff of the text of two nodes, labelled by version
// number. Identical text yields an empty string.
func (c *Control) Diff(fromID, toID string) (string, error) {
	from, err := c.store.GetNode(fromID)
	if err != nil {
		return "", err
	}
	to, err := c.store.GetNode(toID)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.Text),
		B:        difflib.SplitLines(to.Text),
		FromFile: fmt.Sprintf("v%d", from.VersionNumber),
		ToFile:   fmt.Sprintf("v%d", to.VersionNumber),
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}
	return out, nil
}
