package graph

import (
	"database/sql"
	"fmt"
	"time"
)

// NodesInChain returns every version row sharing the given root, ordered by
// ascending version number.
func (s *Store) NodesInChain(rootID string) ([]ContentNode, error) {
	rows, err := s.db.Query("SELECT "+nodeColumns+" FROM content_nodes WHERE root_id = ? ORDER BY version_number ASC, created_at ASC", rootID)
	if err != nil {
		return nil, fmt.Errorf("querying version chain: %w", err)
	}
	defer rows.Close()

	var nodes []ContentNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ChainHead returns the highest-version row of the chain containing the
// given node.
func (s *Store) ChainHead(id string) (ContentNode, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return ContentNode{}, err
	}
	chain, err := s.NodesInChain(node.RootID)
	if err != nil {
		return ContentNode{}, err
	}
	if len(chain) == 0 {
		return ContentNode{}, ErrNotFound
	}
	return chain[len(chain)-1], nil
}

// VersionRecords returns the audit rows for every node in the chain of the
// given node, oldest first.
func (s *Store) VersionRecords(id string) ([]ContentVersion, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT v.id, v.node_id, v.version_number, v.parent_version_id, v.operation, v.operator_id, v.change_summary, v.created_at
		FROM content_versions v
		JOIN content_nodes n ON n.id = v.node_id
		WHERE n.root_id = ?
		ORDER BY v.version_number ASC, v.created_at ASC`, node.RootID)
	if err != nil {
		return nil, fmt.Errorf("querying version records: %w", err)
	}
	defer rows.Close()

	var records []ContentVersion
	for rows.Next() {
		var v ContentVersion
		var parentVersionID, operatorID, changeSummary sql.NullString
		var createdAt string
		if err := rows.Scan(&v.ID, &v.NodeID, &v.VersionNumber, &parentVersionID, &v.Operation, &operatorID, &changeSummary, &createdAt); err != nil {
			return nil, err
		}
		v.ParentVersionID = parentVersionID.String
		v.OperatorID = operatorID.String
		v.ChangeSummary = changeSummary.String
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for version %s: %w", v.ID, err)
		}
		v.CreatedAt = t
		records = append(records, v)
	}
	return records, rows.Err()
}
