package graph

import (
	"database/sql"
	"fmt"
	"time"
)

// SetQuality upserts the 1:1 quality row for a node.
func (s *Store) SetQuality(q ContentQuality) error {
	if q.NodeID == "" {
		return fmt.Errorf("%w: nodeId is required", ErrValidation)
	}
	if _, err := s.GetNode(q.NodeID); err != nil {
		return err
	}
	detail := q.Detail
	if detail == "" {
		detail = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO content_quality (node_id, authenticity, necessity, inflection, voice, overall, stub_type, detail, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			authenticity = excluded.authenticity,
			necessity = excluded.necessity,
			inflection = excluded.inflection,
			voice = excluded.voice,
			overall = excluded.overall,
			stub_type = excluded.stub_type,
			detail = excluded.detail,
			analyzed_at = excluded.analyzed_at`,
		q.NodeID, q.Authenticity, q.Necessity, q.Inflection, q.Voice, q.Overall,
		nullStr(q.StubType), detail, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetQuality returns the quality row for a node, or ErrNotFound when the
// node has not been analyzed.
func (s *Store) GetQuality(nodeID string) (ContentQuality, error) {
	var q ContentQuality
	var stubType sql.NullString
	var analyzedAt string
	err := s.db.QueryRow(`
		SELECT node_id, authenticity, necessity, inflection, voice, overall, stub_type, detail, analyzed_at
		FROM content_quality WHERE node_id = ?`, nodeID,
	).Scan(&q.NodeID, &q.Authenticity, &q.Necessity, &q.Inflection, &q.Voice, &q.Overall, &stubType, &q.Detail, &analyzedAt)
	if err == sql.ErrNoRows {
		return ContentQuality{}, ErrNotFound
	}
	if err != nil {
		return ContentQuality{}, err
	}
	q.StubType = stubType.String
	if q.AnalyzedAt, err = time.Parse(time.RFC3339, analyzedAt); err != nil {
		return ContentQuality{}, fmt.Errorf("parsing analyzed_at: %w", err)
	}
	return q, nil
}
