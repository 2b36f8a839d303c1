package graph

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkInput carries the caller-supplied fields for CreateLink.
type LinkInput struct {
	SourceID    string
	TargetID    string
	Type        string
	Strength    float64
	SourceStart int
	SourceEnd   int
	TargetStart int
	TargetEnd   int
}

const linkColumns = `id, source_id, target_id, type, strength,
	source_start, source_end, target_start, target_end, created_at`

func scanLink(row rowScanner) (ContentLink, error) {
	var l ContentLink
	var ss, se, ts, te sql.NullInt64
	var createdAt string
	if err := row.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Type, &l.Strength, &ss, &se, &ts, &te, &createdAt); err != nil {
		return ContentLink{}, err
	}
	l.SourceStart = int(ss.Int64)
	l.SourceEnd = int(se.Int64)
	l.TargetStart = int(ts.Int64)
	l.TargetEnd = int(te.Int64)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ContentLink{}, fmt.Errorf("parsing created_at for link %s: %w", l.ID, err)
	}
	l.CreatedAt = t
	return l, nil
}

// CreateLink inserts a typed directed link. At most one link of a given type
// may exist per ordered (source, target) pair; a duplicate returns
// ErrConflict. Both endpoints must exist.
func (s *Store) CreateLink(input LinkInput) (ContentLink, error) {
	if input.SourceID == "" || input.TargetID == "" || input.Type == "" {
		return ContentLink{}, fmt.Errorf("%w: sourceId, targetId and type are required", ErrValidation)
	}

	for _, id := range []string{input.SourceID, input.TargetID} {
		if _, err := s.GetNode(id); err != nil {
			if err == ErrNotFound {
				return ContentLink{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
			}
			return ContentLink{}, err
		}
	}

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM content_links WHERE source_id = ? AND target_id = ? AND type = ?`,
		input.SourceID, input.TargetID, input.Type).Scan(&exists)
	if err != nil {
		return ContentLink{}, err
	}
	if exists > 0 {
		return ContentLink{}, fmt.Errorf("%w: link %s -[%s]-> %s already exists", ErrConflict, input.SourceID, input.Type, input.TargetID)
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO content_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, input.SourceID, input.TargetID, input.Type, input.Strength,
		nullInt(input.SourceStart), nullInt(input.SourceEnd), nullInt(input.TargetStart), nullInt(input.TargetEnd), now)
	if err != nil {
		return ContentLink{}, fmt.Errorf("inserting link: %w", err)
	}

	return s.GetLink(id)
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// GetLink returns the link with the given ID, or ErrNotFound.
func (s *Store) GetLink(id string) (ContentLink, error) {
	row := s.db.QueryRow("SELECT "+linkColumns+" FROM content_links WHERE id = ?", id)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return ContentLink{}, ErrNotFound
	}
	return l, err
}

// DeleteLink removes a link without touching its endpoints. Returns whether
// a row existed.
func (s *Store) DeleteLink(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM content_links WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetLinksFrom returns all links whose source is the given node, optionally
// restricted to the given types.
func (s *Store) GetLinksFrom(nodeID string, types ...string) ([]ContentLink, error) {
	return s.queryLinks("source_id", nodeID, types)
}

// GetLinksTo returns all links whose target is the given node, optionally
// restricted to the given types.
func (s *Store) GetLinksTo(nodeID string, types ...string) ([]ContentLink, error) {
	return s.queryLinks("target_id", nodeID, types)
}

func (s *Store) queryLinks(column, nodeID string, types []string) ([]ContentLink, error) {
	q := "SELECT " + linkColumns + " FROM content_links WHERE " + column + " = ?"
	args := []any{nodeID}
	if len(types) > 0 {
		q += " AND type IN (?" + strings.Repeat(",?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	q += " ORDER BY created_at ASC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []ContentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// AllLinks returns every link in the graph. Used by cluster detection.
func (s *Store) AllLinks() ([]ContentLink, error) {
	rows, err := s.db.Query("SELECT " + linkColumns + " FROM content_links")
	if err != nil {
		return nil, fmt.Errorf("querying all links: %w", err)
	}
	defer rows.Close()

	var links []ContentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountLinksTouching returns the number of links in which the node appears on
// either side. Used by the quality gate's substance heuristic.
func (s *Store) CountLinksTouching(nodeID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM content_links WHERE source_id = ? OR target_id = ?", nodeID, nodeID).Scan(&n)
	return n, err
}
