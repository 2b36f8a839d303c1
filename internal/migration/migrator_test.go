package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/loomkit/loom/internal/graph"
)

// buildLegacyFixture writes a small legacy archive: two conversations, three
// messages (one empty), two standalone items, and two item links.
func buildLegacyFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE conversations (id TEXT PRIMARY KEY, title TEXT, created_at TEXT)`,
		`CREATE TABLE messages (id TEXT PRIMARY KEY, conversation_id TEXT, role TEXT, content TEXT, created_at TEXT)`,
		`CREATE TABLE content_items (id TEXT PRIMARY KEY, type TEXT, title TEXT, body TEXT, created_at TEXT)`,
		`CREATE TABLE item_links (source_id TEXT, target_id TEXT, link_type TEXT)`,

		`INSERT INTO conversations VALUES ('c1', 'First chat', '2023-01-01T10:00:00Z')`,
		`INSERT INTO conversations VALUES ('c2', NULL, '2023-02-01T10:00:00Z')`,

		`INSERT INTO messages VALUES ('m1', 'c1', 'user', 'hello there', '2023-01-01T10:00:01Z')`,
		`INSERT INTO messages VALUES ('m2', 'c1', 'assistant', 'hi yourself', '2023-01-01T10:00:02Z')`,
		`INSERT INTO messages VALUES ('m3', 'c2', 'user', '', '2023-02-01T10:00:01Z')`,

		`INSERT INTO content_items VALUES ('i1', 'note', 'A note', 'the body of the note', '2023-03-01T10:00:00Z')`,
		`INSERT INTO content_items VALUES ('i2', '', '', 'an untyped standalone body', '2023-03-02T10:00:00Z')`,

		`INSERT INTO item_links VALUES ('i1', 'i2', 'reference')`,
		`INSERT INTO item_links VALUES ('i1', 'm1', 'related')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture %q: %v", stmt, err)
		}
	}
	return path
}

func openMigrator(t *testing.T) (*graph.Store, *Migrator) {
	t.Helper()
	store, err := graph.Open(":memory:")
	if err != nil {
		t.Fatalf("graph.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := Open(store, buildLegacyFixture(t), nil)
	if err != nil {
		t.Fatalf("migration.Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return store, m
}

func TestDryRun(t *testing.T) {
	store, m := openMigrator(t)

	r, err := m.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !r.DryRun {
		t.Error("DryRun flag not set")
	}

	// The dry report matches what a real run would import, down to the
	// empty message it would skip.
	if r.Conversations != 2 || r.Messages != 2 || r.Items != 2 || r.Links != 2 {
		t.Errorf("counts = %d/%d/%d/%d, want 2/2/2/2", r.Conversations, r.Messages, r.Items, r.Links)
	}
	if r.FailedItems != 1 || len(r.Errors) != 1 {
		t.Errorf("failures = %d (%v), want 1", r.FailedItems, r.Errors)
	}
	if r.ProcessedItems != 8 {
		t.Errorf("ProcessedItems = %d, want 8", r.ProcessedItems)
	}

	// No writes: no nodes, no links, and no batch record.
	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Nodes != 0 || stats.Links != 0 {
		t.Errorf("dry run wrote %d nodes, %d links", stats.Nodes, stats.Links)
	}
	if r.BatchID != "" {
		t.Errorf("dry run recorded batch %q", r.BatchID)
	}

	// A real run afterwards imports exactly what the dry run reported.
	applied, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if applied.Conversations != r.Conversations || applied.Messages != r.Messages ||
		applied.Items != r.Items || applied.Links != r.Links || applied.FailedItems != r.FailedItems {
		t.Errorf("run = %+v, dry = %+v", applied, r)
	}
}

func TestRun(t *testing.T) {
	store, m := openMigrator(t)

	var phases []string
	m.OnProgress(func(phase string, processed, total int) {
		if len(phases) == 0 || phases[len(phases)-1] != phase {
			phases = append(phases, phase)
		}
	})

	r, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.BatchID == "" {
		t.Error("no batch recorded")
	}
	if r.Conversations != 2 || r.Messages != 2 || r.Items != 2 || r.Links != 2 {
		t.Errorf("imported = %d/%d/%d/%d, want 2/2/2/2", r.Conversations, r.Messages, r.Items, r.Links)
	}
	// The empty message is the only failure.
	if r.FailedItems != 1 || len(r.Errors) != 1 {
		t.Errorf("failures = %d (%v), want 1", r.FailedItems, r.Errors)
	}
	if r.ProcessedItems != 8 {
		t.Errorf("ProcessedItems = %d, want 8", r.ProcessedItems)
	}
	if len(phases) != 4 || phases[0] != "conversations" || phases[3] != "links" {
		t.Errorf("progress phases = %v", phases)
	}

	// A titleless conversation gets a synthesized text.
	c2, err := store.GetNodeByURI("content://legacy/conversation/c2")
	if err != nil {
		t.Fatalf("GetNodeByURI(c2): %v", err)
	}
	if c2.Text != "Conversation c2" {
		t.Errorf("c2 text = %q", c2.Text)
	}

	// Messages hang off their conversation as ordered chunks.
	thread, err := store.GetNodeByURI("content://legacy/conversation/c1")
	if err != nil {
		t.Fatalf("GetNodeByURI(c1): %v", err)
	}
	m1, err := store.GetNodeByURI("content://legacy/message/m1")
	if err != nil {
		t.Fatalf("GetNodeByURI(m1): %v", err)
	}
	m2, err := store.GetNodeByURI("content://legacy/message/m2")
	if err != nil {
		t.Fatalf("GetNodeByURI(m2): %v", err)
	}
	if m1.ParentNodeID != thread.ID || m1.ThreadRootID != thread.ID {
		t.Errorf("m1 not attached to its conversation: %+v", m1)
	}
	if m1.ChunkIndex != 0 || m2.ChunkIndex != 1 {
		t.Errorf("chunk order = %d, %d", m1.ChunkIndex, m2.ChunkIndex)
	}
	if m1.SourceMetadata["role"] != "user" {
		t.Errorf("m1 role = %q", m1.SourceMetadata["role"])
	}

	// Untyped items default to notes.
	i2, err := store.GetNodeByURI("content://legacy/item/i2")
	if err != nil {
		t.Fatalf("GetNodeByURI(i2): %v", err)
	}
	if i2.SourceType != "note" {
		t.Errorf("i2 source type = %q", i2.SourceType)
	}

	// Legacy relation names translate to graph link types.
	i1, err := store.GetNodeByURI("content://legacy/item/i1")
	if err != nil {
		t.Fatalf("GetNodeByURI(i1): %v", err)
	}
	links, err := store.GetLinksFrom(i1.ID)
	if err != nil {
		t.Fatalf("GetLinksFrom: %v", err)
	}
	types := map[string]bool{}
	for _, l := range links {
		types[l.Type] = true
	}
	if !types[graph.LinkReferences] || !types[graph.LinkRelatedTo] {
		t.Errorf("link types = %v", types)
	}

	// The batch record carries the outcome.
	batch, err := store.LatestImportBatch()
	if err != nil {
		t.Fatalf("LatestImportBatch: %v", err)
	}
	if batch.ID != r.BatchID || batch.Status != "completed" {
		t.Errorf("batch = %+v", batch)
	}
	if batch.TotalItems != 9 || batch.ProcessedItems != 8 || batch.FailedItems != 1 {
		t.Errorf("batch counts = %d/%d/%d, want 9/8/1", batch.TotalItems, batch.ProcessedItems, batch.FailedItems)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store, m := openMigrator(t)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	r, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	after, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.Nodes != before.Nodes {
		t.Errorf("second run grew nodes from %d to %d", before.Nodes, after.Nodes)
	}
	if after.Links != before.Links {
		t.Errorf("second run grew links from %d to %d", before.Links, after.Links)
	}
	// Re-imported links resolve as already present, not as new rows.
	if r.Links != 0 {
		t.Errorf("second run reported %d new links", r.Links)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	store, m := openMigrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Run(ctx); err == nil {
		t.Fatal("cancelled run returned nil error")
	}

	// Nothing was imported.
	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Nodes != 0 {
		t.Errorf("cancelled run imported %d nodes", stats.Nodes)
	}
}

func TestOpenMissingDatabase(t *testing.T) {
	store, err := graph.Open(":memory:")
	if err != nil {
		t.Fatalf("graph.Open: %v", err)
	}
	defer store.Close()

	if _, err := Open(store, filepath.Join(t.TempDir(), "nope.db"), nil); err == nil {
		t.Fatal("opening a missing legacy database succeeded")
	}
}
