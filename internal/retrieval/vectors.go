package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// VectorFilter narrows a similarity search to a slice of the graph.
// MinLevel < 0 disables the level filter; empty ThreadRoots disables the
// thread filter.
type VectorFilter struct {
	MinLevel      int
	MaxLevel      int // -1 for unbounded
	ThreadRoots   []string
	ExcludeNodeID string
}

// NodeScore is a node ID with its cosine similarity to the query.
type NodeScore struct {
	NodeID string
	Score  float32
}

// VectorIndex stores one embedding per node and answers top-K cosine
// similarity queries by brute-force scan. Adequate up to roughly 100K
// vectors; beyond that an ANN-backed index would replace this type behind
// the same methods.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex wraps an existing *sql.DB. The node_vectors table must
// already exist via migrations.
func NewVectorIndex(db *sql.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// Upsert stores the embedding for a node, replacing any previous vector.
func (v *VectorIndex) Upsert(nodeID string, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for node %s", nodeID)
	}
	_, err := v.db.Exec(`
		INSERT INTO node_vectors (node_id, embedding, dimensions, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		nodeID, encodeFloat32s(vector), len(vector), model, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting vector for %s: %w", nodeID, err)
	}
	return nil
}

// Delete removes the vector for a node. Missing rows are not an error; the
// node may simply never have been embedded.
func (v *VectorIndex) Delete(nodeID string) error {
	_, err := v.db.Exec("DELETE FROM node_vectors WHERE node_id = ?", nodeID)
	return err
}

// Count returns the number of stored vectors.
func (v *VectorIndex) Count() (int, error) {
	var n int
	err := v.db.QueryRow("SELECT COUNT(*) FROM node_vectors").Scan(&n)
	return n, err
}

// Search returns the top-K node IDs by cosine similarity to the query
// vector, restricted by the filter. Scores are in [-1, 1].
func (v *VectorIndex) Search(vector []float32, topK int, filter VectorFilter) ([]NodeScore, error) {
	if topK <= 0 {
		topK = 10
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	q := `SELECT v.node_id, v.embedding FROM node_vectors v`
	var conds []string
	var args []any

	needsJoin := filter.MinLevel >= 0 || filter.MaxLevel >= 0 || len(filter.ThreadRoots) > 0
	if needsJoin {
		q += " JOIN content_nodes n ON n.id = v.node_id"
	}
	if filter.MinLevel >= 0 {
		conds = append(conds, "n.hierarchy_level >= ?")
		args = append(args, filter.MinLevel)
	}
	if filter.MaxLevel >= 0 {
		conds = append(conds, "n.hierarchy_level <= ?")
		args = append(args, filter.MaxLevel)
	}
	if len(filter.ThreadRoots) > 0 {
		conds = append(conds, "n.thread_root_id IN (?"+strings.Repeat(",?", len(filter.ThreadRoots)-1)+")")
		for _, tr := range filter.ThreadRoots {
			args = append(args, tr)
		}
	}
	if filter.ExcludeNodeID != "" {
		conds = append(conds, "v.node_id != ?")
		args = append(args, filter.ExcludeNodeID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := v.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	h := &scoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, NodeScore{NodeID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = NodeScore{NodeID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	// Drain the min-heap into descending order.
	results := make([]NodeScore, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(NodeScore)
	}
	return results, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of the query vector.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoreHeap is a min-heap of NodeScore used to track top-K candidates during
// the scan phase.
type scoreHeap []NodeScore

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)        { *h = append(*h, x.(NodeScore)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
