// Package migration imports a legacy archive database into the content graph.
// The import runs in four phases (conversations, messages, standalone items,
// item links), is idempotent via deterministic URIs, and records its outcome
// as an import batch.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomkit/loom/internal/graph"
)

// Progress is called after each processed row with the current phase and
// running counts. Callbacks must be fast; the migrator blocks on them.
type Progress func(phase string, processed, total int)

// Report summarizes a completed (or dry) run.
type Report struct {
	BatchID        string   `json:"batch_id,omitempty"`
	DryRun         bool     `json:"dry_run"`
	Conversations  int      `json:"conversations"`
	Messages       int      `json:"messages"`
	Items          int      `json:"items"`
	Links          int      `json:"links"`
	ProcessedItems int      `json:"processed_items"`
	FailedItems    int      `json:"failed_items"`
	Errors         []string `json:"errors,omitempty"`
}

// Migrator copies rows from a legacy SQLite archive into a graph.Store.
type Migrator struct {
	store    *graph.Store
	legacy   *sql.DB
	logger   *slog.Logger
	progress Progress
}

// Open connects to the legacy database read-only and returns a Migrator over
// it. Close releases the legacy connection.
func Open(store *graph.Store, legacyPath string, logger *slog.Logger) (*Migrator, error) {
	db, err := sql.Open("sqlite", "file:"+legacyPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening legacy database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("legacy database unreachable: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{store: store, legacy: db, logger: logger}, nil
}

// Close releases the legacy database connection.
func (m *Migrator) Close() error {
	return m.legacy.Close()
}

// OnProgress registers a progress callback for subsequent runs.
func (m *Migrator) OnProgress(p Progress) {
	m.progress = p
}

func (m *Migrator) report(phase string, processed, total int) {
	if m.progress != nil {
		m.progress(phase, processed, total)
	}
}

// legacyURI builds the deterministic address that makes re-runs skip rows
// already imported.
func legacyURI(kind, id string) string {
	return fmt.Sprintf("content://legacy/%s/%s", kind, id)
}

func (m *Migrator) tableExists(name string) (bool, error) {
	var n int
	err := m.legacy.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return n > 0, err
}

func (m *Migrator) countRows(table string) (int, error) {
	ok, err := m.tableExists(table)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	err = m.legacy.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}

type tableCounts struct {
	conversations, messages, items, links int
}

func (m *Migrator) totals() (tableCounts, error) {
	var c tableCounts
	var err error
	if c.conversations, err = m.countRows("conversations"); err != nil {
		return c, err
	}
	if c.messages, err = m.countRows("messages"); err != nil {
		return c, err
	}
	if c.items, err = m.countRows("content_items"); err != nil {
		return c, err
	}
	c.links, err = m.countRows("item_links")
	return c, err
}

// DryRun walks all four phases, validating every row and resolving link
// endpoints, but withholds the writes and records no batch. The report shows
// what a real run against the same stores would import and what would fail.
func (m *Migrator) DryRun(ctx context.Context) (Report, error) {
	r := Report{DryRun: true}
	totals, err := m.totals()
	if err != nil {
		return r, err
	}
	return r, m.runPhases(ctx, &r, totals, false)
}

// Run performs the full four-phase import. Re-running against the same legacy
// database is safe: rows whose deterministic URI already resolves are skipped.
// Cancellation is honored at row boundaries; partial progress is kept and the
// batch is marked failed.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	batch, err := m.store.CreateImportBatch("legacy")
	if err != nil {
		return Report{}, err
	}
	r := Report{BatchID: batch.ID}

	totals, err := m.totals()
	if err != nil {
		return r, err
	}
	batch.TotalItems = totals.conversations + totals.messages + totals.items + totals.links

	m.logger.Info("migration started",
		"batch", batch.ID,
		"conversations", totals.conversations,
		"messages", totals.messages,
		"items", totals.items,
		"links", totals.links)

	runErr := m.runPhases(ctx, &r, totals, true)

	batch.ProcessedItems = r.ProcessedItems
	batch.FailedItems = r.FailedItems
	batch.Errors = r.Errors
	batch.Status = "completed"
	if runErr != nil {
		batch.Status = "failed"
	}
	if err := m.store.FinishImportBatch(batch); err != nil {
		m.logger.Error("recording import batch failed", "batch", batch.ID, "error", err)
	}

	m.logger.Info("migration finished",
		"batch", batch.ID,
		"status", batch.Status,
		"processed", r.ProcessedItems,
		"failed", r.FailedItems)
	return r, runErr
}

// runPhases drives the four phases in order. With apply false the phases do
// every read and validation but skip the writes, tracking would-be nodes in
// planned so later phases can resolve against them.
func (m *Migrator) runPhases(ctx context.Context, r *Report, totals tableCounts, apply bool) error {
	planned := map[string]bool{}
	if err := m.migrateConversations(ctx, r, totals.conversations, apply, planned); err != nil {
		return err
	}
	if err := m.migrateMessages(ctx, r, totals.messages, apply, planned); err != nil {
		return err
	}
	if err := m.migrateItems(ctx, r, totals.items, apply, planned); err != nil {
		return err
	}
	return m.migrateLinks(ctx, r, totals.links, apply, planned)
}

// rowError records a per-row failure without aborting the run. The log is
// capped; the counters keep counting.
func (m *Migrator) rowError(r *Report, phase, id string, err error) {
	r.FailedItems++
	if len(r.Errors) < graph.MaxBatchErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", phase, id, err))
	}
	m.logger.Warn("row import failed", "phase", phase, "id", id, "error", err)
}

func (m *Migrator) migrateConversations(ctx context.Context, r *Report, total int, apply bool, planned map[string]bool) error {
	if total == 0 {
		return nil
	}
	rows, err := m.legacy.Query("SELECT id, title, created_at FROM conversations ORDER BY created_at ASC")
	if err != nil {
		return fmt.Errorf("reading conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id string
		var title, createdAt sql.NullString
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return err
		}

		text := title.String
		if strings.TrimSpace(text) == "" {
			text = "Conversation " + id
		}
		if !apply {
			planned[legacyURI("conversation", id)] = true
			r.Conversations++
			r.ProcessedItems++
			m.report("conversations", r.Conversations+r.FailedItems, total)
			continue
		}
		_, err := m.store.CreateNode(graph.NodeInput{
			Text:              text,
			Format:            "plain",
			Title:             title.String,
			URI:               legacyURI("conversation", id),
			SourceType:        "conversation",
			SourceAdapter:     "legacy",
			SourceOriginalID:  id,
			HierarchyLevel:    1,
			Operation:         "migrate",
			IngestedFromTable: "conversations",
			IngestedFromID:    id,
			SourceMetadata:    legacyMeta(createdAt),
		})
		if err != nil {
			m.rowError(r, "conversation", id, err)
		} else {
			r.Conversations++
			r.ProcessedItems++
		}
		m.report("conversations", r.Conversations+r.FailedItems, total)
	}
	return rows.Err()
}

func (m *Migrator) migrateMessages(ctx context.Context, r *Report, total int, apply bool, planned map[string]bool) error {
	if total == 0 {
		return nil
	}
	rows, err := m.legacy.Query(`
		SELECT id, conversation_id, role, content, created_at
		FROM messages ORDER BY conversation_id ASC, created_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}
	defer rows.Close()

	chunkIndex := map[string]int{}
	processed := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id, convID string
		var role, content, createdAt sql.NullString
		if err := rows.Scan(&id, &convID, &role, &content, &createdAt); err != nil {
			return err
		}
		processed++

		if strings.TrimSpace(content.String) == "" {
			m.rowError(r, "message", id, fmt.Errorf("empty content"))
			m.report("messages", processed, total)
			continue
		}

		threadURI := legacyURI("conversation", convID)
		var thread graph.ContentNode
		if !planned[threadURI] {
			thread, err = m.store.GetNodeByURI(threadURI)
			if err != nil {
				m.rowError(r, "message", id, fmt.Errorf("conversation %s: %w", convID, err))
				m.report("messages", processed, total)
				continue
			}
		}

		meta := legacyMeta(createdAt)
		if role.String != "" {
			meta["role"] = role.String
		}
		idx := chunkIndex[convID]
		chunkIndex[convID] = idx + 1

		if !apply {
			planned[legacyURI("message", id)] = true
			r.Messages++
			r.ProcessedItems++
			m.report("messages", processed, total)
			continue
		}
		_, err = m.store.CreateNode(graph.NodeInput{
			Text:              content.String,
			Format:            "plain",
			URI:               legacyURI("message", id),
			SourceType:        "conversation",
			SourceAdapter:     "legacy",
			SourceOriginalID:  id,
			ParentNodeID:      thread.ID,
			ChunkIndex:        idx,
			HierarchyLevel:    0,
			ThreadRootID:      thread.ID,
			Operation:         "migrate",
			IngestedFromTable: "messages",
			IngestedFromID:    id,
			SourceMetadata:    meta,
		})
		if err != nil {
			m.rowError(r, "message", id, err)
		} else {
			r.Messages++
			r.ProcessedItems++
		}
		m.report("messages", processed, total)
	}
	return rows.Err()
}

func (m *Migrator) migrateItems(ctx context.Context, r *Report, total int, apply bool, planned map[string]bool) error {
	if total == 0 {
		return nil
	}
	rows, err := m.legacy.Query("SELECT id, type, title, body, created_at FROM content_items ORDER BY created_at ASC")
	if err != nil {
		return fmt.Errorf("reading content items: %w", err)
	}
	defer rows.Close()

	processed := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var id string
		var itemType, title, body, createdAt sql.NullString
		if err := rows.Scan(&id, &itemType, &title, &body, &createdAt); err != nil {
			return err
		}
		processed++

		if strings.TrimSpace(body.String) == "" {
			m.rowError(r, "item", id, fmt.Errorf("empty body"))
			m.report("items", processed, total)
			continue
		}
		sourceType := itemType.String
		if sourceType == "" {
			sourceType = "note"
		}

		if !apply {
			planned[legacyURI("item", id)] = true
			r.Items++
			r.ProcessedItems++
			m.report("items", processed, total)
			continue
		}
		_, err := m.store.CreateNode(graph.NodeInput{
			Text:              body.String,
			Format:            "plain",
			Title:             title.String,
			URI:               legacyURI("item", id),
			SourceType:        sourceType,
			SourceAdapter:     "legacy",
			SourceOriginalID:  id,
			HierarchyLevel:    0,
			Operation:         "migrate",
			IngestedFromTable: "content_items",
			IngestedFromID:    id,
			SourceMetadata:    legacyMeta(createdAt),
		})
		if err != nil {
			m.rowError(r, "item", id, err)
		} else {
			r.Items++
			r.ProcessedItems++
		}
		m.report("items", processed, total)
	}
	return rows.Err()
}

// linkTypeMap translates legacy relation names into graph link types. Unknown
// names pass through unchanged.
var linkTypeMap = map[string]string{
	"reference": graph.LinkReferences,
	"related":   graph.LinkRelatedTo,
	"reply":     graph.LinkRespondsTo,
	"parent":    graph.LinkParent,
	"child":     graph.LinkChild,
	"derived":   graph.LinkDerivedFrom,
}

func (m *Migrator) migrateLinks(ctx context.Context, r *Report, total int, apply bool, planned map[string]bool) error {
	if total == 0 {
		return nil
	}
	rows, err := m.legacy.Query("SELECT source_id, target_id, link_type FROM item_links")
	if err != nil {
		return fmt.Errorf("reading item links: %w", err)
	}
	defer rows.Close()

	processed := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var sourceID, targetID string
		var linkType sql.NullString
		if err := rows.Scan(&sourceID, &targetID, &linkType); err != nil {
			return err
		}
		processed++
		key := sourceID + "->" + targetID

		source, err := m.resolveLegacy(sourceID, planned)
		if err != nil {
			m.rowError(r, "link", key, fmt.Errorf("source: %w", err))
			m.report("links", processed, total)
			continue
		}
		target, err := m.resolveLegacy(targetID, planned)
		if err != nil {
			m.rowError(r, "link", key, fmt.Errorf("target: %w", err))
			m.report("links", processed, total)
			continue
		}

		t := linkTypeMap[linkType.String]
		if t == "" {
			t = linkType.String
		}
		if t == "" {
			t = graph.LinkRelatedTo
		}

		if !apply {
			r.Links++
			r.ProcessedItems++
			m.report("links", processed, total)
			continue
		}
		_, err = m.store.CreateLink(graph.LinkInput{
			SourceID: source.ID,
			TargetID: target.ID,
			Type:     t,
			Strength: 1.0,
		})
		switch {
		case err == nil:
			r.Links++
			r.ProcessedItems++
		case errors.Is(err, graph.ErrConflict):
			// Already imported on a prior run.
			r.ProcessedItems++
		default:
			m.rowError(r, "link", key, err)
		}
		m.report("links", processed, total)
	}
	return rows.Err()
}

// resolveLegacy finds the imported node for a legacy ID, trying each legacy
// kind in turn. A planned entry stands in for a node a dry run would have
// written by this point.
func (m *Migrator) resolveLegacy(legacyID string, planned map[string]bool) (graph.ContentNode, error) {
	for _, kind := range []string{"item", "message", "conversation"} {
		uri := legacyURI(kind, legacyID)
		if planned[uri] {
			return graph.ContentNode{}, nil
		}
		node, err := m.store.GetNodeByURI(uri)
		if err == nil {
			return node, nil
		}
		if err != graph.ErrNotFound {
			return graph.ContentNode{}, err
		}
	}
	return graph.ContentNode{}, fmt.Errorf("%w: legacy id %s not imported", graph.ErrNotFound, legacyID)
}

func legacyMeta(createdAt sql.NullString) map[string]string {
	meta := map[string]string{"migrated_at": time.Now().UTC().Format(time.RFC3339)}
	if createdAt.String != "" {
		meta["original_created_at"] = createdAt.String
	}
	return meta
}
