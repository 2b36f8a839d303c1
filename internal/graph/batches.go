package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateImportBatch opens a new batch in "running" state.
func (s *Store) CreateImportBatch(sourceType string) (ImportBatch, error) {
	b := ImportBatch{
		ID:         uuid.New().String(),
		SourceType: sourceType,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO import_batches (id, source_type, status, started_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.SourceType, b.Status, b.StartedAt.Format(time.RFC3339))
	if err != nil {
		return ImportBatch{}, fmt.Errorf("creating import batch: %w", err)
	}
	return b, nil
}

// FinishImportBatch records final counts, the capped error log, and the
// terminal status.
func (s *Store) FinishImportBatch(b ImportBatch) error {
	if len(b.Errors) > MaxBatchErrors {
		b.Errors = b.Errors[:MaxBatchErrors]
	}
	errJSON, err := json.Marshal(b.Errors)
	if err != nil {
		return fmt.Errorf("marshalling batch errors: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE import_batches
		SET status = ?, total_items = ?, processed_items = ?, failed_items = ?, error_log = ?, completed_at = ?
		WHERE id = ?`,
		b.Status, b.TotalItems, b.ProcessedItems, b.FailedItems, string(errJSON),
		time.Now().UTC().Format(time.RFC3339), b.ID)
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

// LatestImportBatch returns the most recently started batch, or ErrNotFound
// when no migration has ever run.
func (s *Store) LatestImportBatch() (ImportBatch, error) {
	row := s.db.QueryRow(`
		SELECT id, source_type, status, total_items, processed_items, failed_items, error_log, started_at, completed_at
		FROM import_batches ORDER BY started_at DESC LIMIT 1`)
	return scanImportBatch(row)
}

func scanImportBatch(row rowScanner) (ImportBatch, error) {
	var b ImportBatch
	var errJSON, startedAt string
	var completedAt sql.NullString
	err := row.Scan(&b.ID, &b.SourceType, &b.Status, &b.TotalItems, &b.ProcessedItems, &b.FailedItems, &errJSON, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return ImportBatch{}, ErrNotFound
	}
	if err != nil {
		return ImportBatch{}, err
	}
	if err := json.Unmarshal([]byte(errJSON), &b.Errors); err != nil {
		return ImportBatch{}, fmt.Errorf("parsing batch error log: %w", err)
	}
	if b.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return ImportBatch{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if b.CompletedAt, err = parseTime(completedAt); err != nil {
		return ImportBatch{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return b, nil
}
