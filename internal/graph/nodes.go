package graph

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizeText collapses whitespace runs so that formatting-only differences
// do not change a node's content hash.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContentHash returns the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// DeriveURI builds the stable external address for a node:
// content://{sourceType}/{adapter}/{originalID}. Falls back to the content
// hash prefix when the source has no stable original ID.
func DeriveURI(sourceType, adapter, originalID, contentHash string) string {
	if adapter == "" {
		adapter = "item"
	}
	if originalID == "" {
		originalID = contentHash[:12]
	}
	return fmt.Sprintf("content://%s/%s/%s", sourceType, adapter, originalID)
}

const nodeColumns = `id, content_hash, uri, text, format, rendered, binary_hash,
	title, author, word_count, language, tags, source_metadata,
	source_type, source_adapter, source_original_id, source_original_path, import_batch,
	version_number, parent_id, root_id, operation, operator_id,
	parent_node_id, chunk_index, chunk_start_offset, chunk_end_offset, hierarchy_level, thread_root_id,
	embedding_model, embedded_at, embedding_text_hash,
	ingested_from_table, ingested_from_id, ingested_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (ContentNode, error) {
	var n ContentNode
	var rendered, binaryHash, title, author, language sql.NullString
	var sourceAdapter, sourceOriginalID, sourceOriginalPath, importBatch sql.NullString
	var parentID, operation, operatorID, parentNodeID, threadRootID sql.NullString
	var embeddingModel, embeddingTextHash sql.NullString
	var ingestedFromTable, ingestedFromID sql.NullString
	var tagsJSON, metaJSON string
	var embeddedAt, ingestedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&n.ID, &n.ContentHash, &n.URI, &n.Text, &n.Format, &rendered, &binaryHash,
		&title, &author, &n.WordCount, &language, &tagsJSON, &metaJSON,
		&n.SourceType, &sourceAdapter, &sourceOriginalID, &sourceOriginalPath, &importBatch,
		&n.VersionNumber, &parentID, &n.RootID, &operation, &operatorID,
		&parentNodeID, &n.ChunkIndex, &n.ChunkStartOffset, &n.ChunkEndOffset, &n.HierarchyLevel, &threadRootID,
		&embeddingModel, &embeddedAt, &embeddingTextHash,
		&ingestedFromTable, &ingestedFromID, &ingestedAt, &createdAt,
	)
	if err != nil {
		return ContentNode{}, err
	}

	n.Rendered = rendered.String
	n.BinaryHash = binaryHash.String
	n.Title = title.String
	n.Author = author.String
	n.Language = language.String
	n.SourceAdapter = sourceAdapter.String
	n.SourceOriginalID = sourceOriginalID.String
	n.SourceOriginalPath = sourceOriginalPath.String
	n.ImportBatch = importBatch.String
	n.ParentID = parentID.String
	n.Operation = operation.String
	n.OperatorID = operatorID.String
	n.ParentNodeID = parentNodeID.String
	n.ThreadRootID = threadRootID.String
	n.EmbeddingModel = embeddingModel.String
	n.EmbeddingTextHash = embeddingTextHash.String
	n.IngestedFromTable = ingestedFromTable.String
	n.IngestedFromID = ingestedFromID.String

	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return ContentNode{}, fmt.Errorf("parsing tags for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &n.SourceMetadata); err != nil {
		return ContentNode{}, fmt.Errorf("parsing source_metadata for %s: %w", n.ID, err)
	}

	if n.EmbeddedAt, err = parseTime(embeddedAt); err != nil {
		return ContentNode{}, fmt.Errorf("parsing embedded_at for %s: %w", n.ID, err)
	}
	if n.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return ContentNode{}, fmt.Errorf("parsing ingested_at for %s: %w", n.ID, err)
	}
	if n.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ContentNode{}, fmt.Errorf("parsing created_at for %s: %w", n.ID, err)
	}
	return n, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshalling tags: %w", err)
	}
	return string(b), nil
}

func marshalMeta(meta map[string]string) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshalling source_metadata: %w", err)
	}
	return string(b), nil
}

// CreateNode validates the input, dedups by URI, and inserts a new node.
// Re-ingesting identical source content resolves to the existing node;
// same URI with changed content produces the next version of that node.
// The FTS index is updated by trigger inside the same transaction.
func (s *Store) CreateNode(input NodeInput) (ContentNode, error) {
	if strings.TrimSpace(input.Text) == "" {
		return ContentNode{}, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if input.SourceType == "" {
		return ContentNode{}, fmt.Errorf("%w: sourceType is required", ErrValidation)
	}

	hash := ContentHash(input.Text)
	uri := input.URI
	if uri == "" {
		uri = DeriveURI(input.SourceType, input.SourceAdapter, input.SourceOriginalID, hash)
	}

	existing, err := s.GetNodeByURI(uri)
	switch {
	case err == nil:
		if existing.ContentHash == hash {
			return existing, nil
		}
		text := input.Text
		title := input.Title
		op := input.Operation
		if op == "" {
			op = "reingest"
		}
		return s.UpdateNode(existing.ID, NodePatch{Text: &text, Title: &title}, op, input.OperatorID)
	case err != ErrNotFound:
		return ContentNode{}, err
	}

	tagsJSON, err := marshalTags(input.Tags)
	if err != nil {
		return ContentNode{}, err
	}
	metaJSON, err := marshalMeta(input.SourceMetadata)
	if err != nil {
		return ContentNode{}, err
	}

	format := input.Format
	if format == "" {
		format = "plain"
	}
	operation := input.Operation
	if operation == "" {
		operation = "create"
	}

	now := time.Now().UTC()
	id := uuid.New().String()

	var ingestedAt any
	if input.IngestedFromTable != "" {
		ingestedAt = now.Format(time.RFC3339)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ContentNode{}, fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO content_nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, hash, uri, input.Text, format, nullStr(input.Rendered), nullStr(input.BinaryHash),
		nullStr(input.Title), nullStr(input.Author), CountWords(input.Text), nullStr(input.Language), tagsJSON, metaJSON,
		input.SourceType, nullStr(input.SourceAdapter), nullStr(input.SourceOriginalID), nullStr(input.SourceOriginalPath), nullStr(input.ImportBatch),
		1, nil, id, operation, nullStr(input.OperatorID),
		nullStr(input.ParentNodeID), input.ChunkIndex, input.ChunkStartOffset, input.ChunkEndOffset, input.HierarchyLevel, nullStr(input.ThreadRootID),
		nil, nil, nil,
		nullStr(input.IngestedFromTable), nullStr(input.IngestedFromID), ingestedAt, now.Format(time.RFC3339),
	)
	if err != nil {
		return ContentNode{}, fmt.Errorf("inserting node: %w", err)
	}

	if err := insertVersionRow(tx, id, 1, "", operation, input.OperatorID, ""); err != nil {
		return ContentNode{}, err
	}
	if err := enqueueEmbedJob(tx, id); err != nil {
		return ContentNode{}, err
	}

	if err := tx.Commit(); err != nil {
		return ContentNode{}, fmt.Errorf("committing create: %w", err)
	}

	return s.GetNode(id)
}

// UpdateNode appends a new immutable row carrying versionNumber+1 and
// parentId pointing at the prior row. The canonical URI moves to the new
// head; the superseded row keeps a version-qualified address so history
// stays reachable while the unique-URI law keeps pointing at the head.
func (s *Store) UpdateNode(id string, patch NodePatch, operation, operatorID string) (ContentNode, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return ContentNode{}, err
	}
	if operation == "" {
		return ContentNode{}, fmt.Errorf("%w: operation is required", ErrValidation)
	}

	text := node.Text
	if patch.Text != nil {
		text = *patch.Text
	}
	if strings.TrimSpace(text) == "" {
		return ContentNode{}, fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	title := node.Title
	if patch.Title != nil {
		title = *patch.Title
	}
	rendered := node.Rendered
	if patch.Rendered != nil {
		rendered = *patch.Rendered
	}
	tags := node.Tags
	if patch.Tags != nil {
		tags = patch.Tags
	}
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return ContentNode{}, err
	}
	metaJSON, err := marshalMeta(node.SourceMetadata)
	if err != nil {
		return ContentNode{}, err
	}

	textChanged := text != node.Text
	hash := node.ContentHash
	if textChanged {
		hash = ContentHash(text)
	}

	now := time.Now().UTC()
	newID := uuid.New().String()
	canonicalURI := node.URI

	tx, err := s.db.Begin()
	if err != nil {
		return ContentNode{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	// Free the canonical URI for the new head.
	supersededURI := fmt.Sprintf("%s?v=%d", canonicalURI, node.VersionNumber)
	if _, err := tx.Exec(`UPDATE content_nodes SET uri = ? WHERE id = ?`, supersededURI, id); err != nil {
		return ContentNode{}, fmt.Errorf("reassigning uri of superseded version: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO content_nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID, hash, canonicalURI, text, node.Format, nullStr(rendered), nullStr(node.BinaryHash),
		nullStr(title), nullStr(node.Author), CountWords(text), nullStr(node.Language), tagsJSON, metaJSON,
		node.SourceType, nullStr(node.SourceAdapter), nullStr(node.SourceOriginalID), nullStr(node.SourceOriginalPath), nullStr(node.ImportBatch),
		node.VersionNumber+1, id, node.RootID, operation, nullStr(operatorID),
		nullStr(node.ParentNodeID), node.ChunkIndex, node.ChunkStartOffset, node.ChunkEndOffset, node.HierarchyLevel, nullStr(node.ThreadRootID),
		nil, nil, nil,
		nullStr(node.IngestedFromTable), nullStr(node.IngestedFromID), fmtTime(node.IngestedAt), now.Format(time.RFC3339),
	)
	if err != nil {
		return ContentNode{}, fmt.Errorf("inserting new version: %w", err)
	}

	if err := insertVersionRow(tx, newID, node.VersionNumber+1, id, operation, operatorID, ""); err != nil {
		return ContentNode{}, err
	}
	if textChanged {
		if err := enqueueEmbedJob(tx, newID); err != nil {
			return ContentNode{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ContentNode{}, fmt.Errorf("committing update: %w", err)
	}

	return s.GetNode(newID)
}

// DeleteNode removes a node, its links, vectors, quality row, and chunk
// children (recursively). Returns whether the node existed.
func (s *Store) DeleteNode(id string) (bool, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM content_nodes WHERE id = ?", id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	// Collect the chunk subtree before deleting anything.
	toDelete := []string{id}
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []string
		for _, parent := range frontier {
			rows, err := s.db.Query("SELECT id FROM content_nodes WHERE parent_node_id = ?", parent)
			if err != nil {
				return false, err
			}
			for rows.Next() {
				var child string
				if err := rows.Scan(&child); err != nil {
					rows.Close()
					return false, err
				}
				next = append(next, child)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return false, err
			}
			rows.Close()
		}
		toDelete = append(toDelete, next...)
		frontier = next
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, nodeID := range toDelete {
		// Links, vectors, and quality rows cascade via foreign keys; the FTS
		// entry is removed by the delete trigger in the same transaction.
		if _, err := tx.Exec("DELETE FROM content_nodes WHERE id = ?", nodeID); err != nil {
			return false, fmt.Errorf("deleting node %s: %w", nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return true, nil
}

// GetNode returns the node with the given ID, or ErrNotFound.
func (s *Store) GetNode(id string) (ContentNode, error) {
	row := s.db.QueryRow("SELECT "+nodeColumns+" FROM content_nodes WHERE id = ?", id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return ContentNode{}, ErrNotFound
	}
	return n, err
}

// GetNodeByURI returns the node with the given canonical URI, or ErrNotFound.
func (s *Store) GetNodeByURI(uri string) (ContentNode, error) {
	row := s.db.QueryRow("SELECT "+nodeColumns+" FROM content_nodes WHERE uri = ?", uri)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return ContentNode{}, ErrNotFound
	}
	return n, err
}

// QueryNodes returns nodes matching every set field of the filter, newest
// first. An empty filter lists the corpus.
func (s *Store) QueryNodes(filter NodeFilter) ([]ContentNode, error) {
	var conds []string
	var args []any

	if filter.SourceType != "" {
		conds = append(conds, "source_type = ?")
		args = append(args, filter.SourceType)
	}
	if !filter.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if !filter.CreatedBefore.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.CreatedBefore.UTC().Format(time.RFC3339))
	}
	for _, tag := range filter.Tags {
		b, err := json.Marshal(tag)
		if err != nil {
			return nil, fmt.Errorf("marshalling tag filter: %w", err)
		}
		conds = append(conds, "tags LIKE ?")
		args = append(args, "%"+string(b)+"%")
	}
	if filter.HierarchyLevel != nil {
		conds = append(conds, "hierarchy_level = ?")
		args = append(args, *filter.HierarchyLevel)
	}
	if filter.ThreadRootID != "" {
		conds = append(conds, "thread_root_id = ?")
		args = append(args, filter.ThreadRootID)
	}
	if filter.ImportBatch != "" {
		conds = append(conds, "import_batch = ?")
		args = append(args, filter.ImportBatch)
	}

	query := "SELECT " + nodeColumns + " FROM content_nodes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
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

// MarkEmbedded stamps the embedding metadata after the external embedder has
// produced a vector for the node's current text.
func (s *Store) MarkEmbedded(id, model, textHash string) error {
	res, err := s.db.Exec(`
		UPDATE content_nodes SET embedding_model = ?, embedded_at = ?, embedding_text_hash = ?
		WHERE id = ?`,
		model, time.Now().UTC().Format(time.RFC3339), textHash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertVersionRow(tx *sql.Tx, nodeID string, version int, parentVersionID, operation, operatorID, summary string) error {
	_, err := tx.Exec(`
		INSERT INTO content_versions (id, node_id, version_number, parent_version_id, operation, operator_id, change_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), nodeID, version, nullStr(parentVersionID), operation, nullStr(operatorID), nullStr(summary),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return nil
}

func enqueueEmbedJob(tx *sql.Tx, nodeID string) error {
	payload, err := json.Marshal(map[string]string{"node_id": nodeID})
	if err != nil {
		return fmt.Errorf("marshalling embed payload: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, 'embed_node', ?, 'pending', 0, 3, ?, ?, ?)`,
		uuid.New().String(), string(payload), now, now, now)
	if err != nil {
		return fmt.Errorf("enqueueing embed job: %w", err)
	}
	return nil
}
