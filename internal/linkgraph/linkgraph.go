// Package linkgraph provides traversal over the content graph's typed links:
// derivation chasing, version lineage, bounded relatedness search, shortest
// paths, and cluster detection.
package linkgraph

import (
	"fmt"
	"sort"

	"github.com/loomkit/loom/internal/graph"
)

// derivationTypes are the link types followed forward by Derivatives.
var derivationTypes = []string{graph.LinkVersionOf, graph.LinkDerivedFrom}

// Graph traverses links stored in a graph.Store.
type Graph struct {
	store *graph.Store
}

// New creates a Graph over the given store.
func New(store *graph.Store) *Graph {
	return &Graph{store: store}
}

// Derivatives returns all nodes reachable by following derivation-type links
// forward from the given node (summaries, forks, rewrites of it).
func (g *Graph) Derivatives(id string) ([]graph.ContentNode, error) {
	if _, err := g.store.GetNode(id); err != nil {
		return nil, err
	}

	seen := map[string]bool{id: true}
	frontier := []string{id}
	var result []graph.ContentNode

	for len(frontier) > 0 {
		var next []string
		for _, nodeID := range frontier {
			// Derivation links point derivative -> origin, so derivatives of
			// this node are the sources of links targeting it.
			links, err := g.store.GetLinksTo(nodeID, derivationTypes...)
			if err != nil {
				return nil, err
			}
			for _, l := range links {
				if seen[l.SourceID] {
					continue
				}
				seen[l.SourceID] = true
				node, err := g.store.GetNode(l.SourceID)
				if err == graph.ErrNotFound {
					continue // dangling link, node deleted independently
				}
				if err != nil {
					return nil, err
				}
				result = append(result, node)
				next = append(next, l.SourceID)
			}
		}
		frontier = next
	}
	return result, nil
}

// Lineage walks the version/parent chain backward from the given node to the
// chain root, returning the ancestors oldest-last (immediate parent first).
func (g *Graph) Lineage(id string) ([]graph.ContentNode, error) {
	node, err := g.store.GetNode(id)
	if err != nil {
		return nil, err
	}

	var lineage []graph.ContentNode
	seen := map[string]bool{node.ID: true}
	for node.ParentID != "" {
		if seen[node.ParentID] {
			return nil, fmt.Errorf("version chain cycle at node %s", node.ParentID)
		}
		parent, err := g.store.GetNode(node.ParentID)
		if err == graph.ErrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		lineage = append(lineage, parent)
		node = parent
	}
	return lineage, nil
}

// Related performs a breadth-first traversal up to depth hops over all link
// types in both directions, returning deduplicated neighbours excluding the
// start node.
func (g *Graph) Related(id string, depth int) ([]graph.ContentNode, error) {
	if _, err := g.store.GetNode(id); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}

	seen := map[string]bool{id: true}
	frontier := []string{id}
	var result []graph.ContentNode

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, nodeID := range frontier {
			neighbours, err := g.neighbours(nodeID, nil)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbours {
				if seen[nb] {
					continue
				}
				seen[nb] = true
				node, err := g.store.GetNode(nb)
				if err == graph.ErrNotFound {
					continue
				}
				if err != nil {
					return nil, err
				}
				result = append(result, node)
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return result, nil
}

// FindPath returns the shortest link path between two nodes within maxDepth
// hops, optionally restricted to the given link types. A nil result means no
// path exists within the bound; that is a normal outcome, not an error.
func (g *Graph) FindPath(from, to string, types []string, maxDepth int) ([]graph.ContentNode, error) {
	if _, err := g.store.GetNode(from); err != nil {
		return nil, err
	}
	if _, err := g.store.GetNode(to); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 6
	}
	if from == to {
		node, err := g.store.GetNode(from)
		if err != nil {
			return nil, err
		}
		return []graph.ContentNode{node}, nil
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}

	for hop := 0; hop < maxDepth && len(frontier) > 0; hop++ {
		var next []string
		for _, nodeID := range frontier {
			neighbours, err := g.neighbours(nodeID, types)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbours {
				if _, visited := parent[nb]; visited {
					continue
				}
				parent[nb] = nodeID
				if nb == to {
					return g.buildPath(parent, to)
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil, nil
}

func (g *Graph) buildPath(parent map[string]string, to string) ([]graph.ContentNode, error) {
	var ids []string
	for cur := to; cur != ""; cur = parent[cur] {
		ids = append(ids, cur)
	}
	// Reverse into from -> to order.
	path := make([]graph.ContentNode, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		node, err := g.store.GetNode(ids[i])
		if err != nil {
			return nil, err
		}
		path = append(path, node)
	}
	return path, nil
}

// neighbours returns the IDs on the far side of every link touching the node,
// optionally restricted to the given types. Links are treated as
// bidirectional for traversal.
func (g *Graph) neighbours(nodeID string, types []string) ([]string, error) {
	out, err := g.store.GetLinksFrom(nodeID, types...)
	if err != nil {
		return nil, err
	}
	in, err := g.store.GetLinksTo(nodeID, types...)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, l := range out {
		ids = append(ids, l.TargetID)
	}
	for _, l := range in {
		ids = append(ids, l.SourceID)
	}
	return ids, nil
}

// Cluster is a connected component of densely linked nodes.
type Cluster struct {
	NodeIDs []string `json:"node_ids"`
	Size    int      `json:"size"`
}

// FindClusters groups nodes into connected components over all links,
// discards components smaller than minSize, and returns at most maxClusters
// components, largest first.
func (g *Graph) FindClusters(minSize, maxClusters int) ([]Cluster, error) {
	if minSize <= 0 {
		minSize = 2
	}
	if maxClusters <= 0 {
		maxClusters = 10
	}

	links, err := g.store.AllLinks()
	if err != nil {
		return nil, err
	}

	// Union-find over linked node IDs.
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, l := range links {
		union(l.SourceID, l.TargetID)
	}

	members := make(map[string][]string)
	for id := range parent {
		root := find(id)
		members[root] = append(members[root], id)
	}

	var clusters []Cluster
	for _, ids := range members {
		if len(ids) < minSize {
			continue
		}
		sort.Strings(ids)
		clusters = append(clusters, Cluster{NodeIDs: ids, Size: len(ids)})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].NodeIDs[0] < clusters[j].NodeIDs[0]
	})
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	return clusters, nil
}
