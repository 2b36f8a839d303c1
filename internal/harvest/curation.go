package harvest

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/loomkit/loom/internal/graph"
)

// withBucket runs a mutation inside one transaction: it loads the bucket,
// verifies status and version, applies fn, and bumps the version. A version
// mismatch means another writer got there first and returns ErrConflict with
// nothing changed.
func (s *Store) withBucket(bucketID string, expectedVersion int, allowed []string, fn func(tx *sql.Tx, b Bucket) error) (Bucket, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Bucket{}, fmt.Errorf("beginning bucket transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanBucket(tx.QueryRow(`
		SELECT id, book_id, status, version, created_at, collecting_finished_at, finalized_at
		FROM harvest_buckets WHERE id = ?`, bucketID))
	if err != nil {
		return Bucket{}, err
	}

	if !slices.Contains(allowed, b.Status) {
		return Bucket{}, fmt.Errorf("%w: bucket is %s", graph.ErrInvalidState, b.Status)
	}
	if b.Version != expectedVersion {
		return Bucket{}, fmt.Errorf("%w: bucket version is %d, not %d", graph.ErrConflict, b.Version, expectedVersion)
	}

	if err := fn(tx, b); err != nil {
		return Bucket{}, err
	}

	res, err := tx.Exec(`UPDATE harvest_buckets SET version = version + 1 WHERE id = ? AND version = ?`,
		bucketID, expectedVersion)
	if err != nil {
		return Bucket{}, fmt.Errorf("bumping bucket version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Bucket{}, err
	}
	if n != 1 {
		return Bucket{}, fmt.Errorf("%w: bucket changed during update", graph.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return Bucket{}, fmt.Errorf("committing bucket update: %w", err)
	}
	return s.GetBucket(bucketID)
}

// Collect adds a passage to the candidate sequence of a collecting bucket.
func (s *Store) Collect(bucketID string, version int, input PassageInput) (Passage, error) {
	if input.Text == "" {
		return Passage{}, fmt.Errorf("%w: passage text is required", graph.ErrValidation)
	}

	var passageID string
	_, err := s.withBucket(bucketID, version, []string{StatusCollecting}, func(tx *sql.Tx, b Bucket) error {
		var maxPos sql.NullInt64
		err := tx.QueryRow(`SELECT MAX(position) FROM harvest_passages WHERE bucket_id = ? AND sequence = ?`,
			bucketID, SeqCandidate).Scan(&maxPos)
		if err != nil {
			return err
		}

		passageID = uuid.New().String()
		_, err = tx.Exec(`
			INSERT INTO harvest_passages (id, bucket_id, sequence, position, node_id, text, source, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			passageID, bucketID, SeqCandidate, maxPos.Int64+1,
			nullStr(input.NodeID), input.Text, nullStr(input.Source),
			time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("inserting passage: %w", err)
		}
		return nil
	})
	if err != nil {
		return Passage{}, err
	}
	return s.getPassage(bucketID, passageID)
}

// FinishCollecting moves a collecting bucket into review.
func (s *Store) FinishCollecting(bucketID string, version int) (Bucket, error) {
	return s.withBucket(bucketID, version, []string{StatusCollecting}, func(tx *sql.Tx, b Bucket) error {
		_, err := tx.Exec(`UPDATE harvest_buckets SET status = ?, collecting_finished_at = ? WHERE id = ?`,
			StatusReviewing, time.Now().UTC().Format(time.RFC3339), bucketID)
		return err
	})
}

// Approve moves a passage to the approved sequence. Verdicts can be given or
// changed any time before the bucket is committed or discarded.
func (s *Store) Approve(bucketID, passageID string, version int, reason string) (Bucket, error) {
	return s.movePassage(bucketID, passageID, version, SeqApproved, reason)
}

// Reject moves a passage to the rejected sequence.
func (s *Store) Reject(bucketID, passageID string, version int, reason string) (Bucket, error) {
	return s.movePassage(bucketID, passageID, version, SeqRejected, reason)
}

// MarkGem promotes a passage to the gem sequence.
func (s *Store) MarkGem(bucketID, passageID string, version int, reason string) (Bucket, error) {
	return s.movePassage(bucketID, passageID, version, SeqGem, reason)
}

// Undo returns a triaged passage to the candidate sequence, clearing its
// curation verdict.
func (s *Store) Undo(bucketID, passageID string, version int) (Bucket, error) {
	return s.movePassage(bucketID, passageID, version, SeqCandidate, "")
}

// movePassage relocates a passage from whichever sequence currently holds it
// to the end of toSeq. Moves are refused only once the bucket is terminal; an
// unknown passage is the sole per-passage failure.
func (s *Store) movePassage(bucketID, passageID string, version int, toSeq, reason string) (Bucket, error) {
	return s.withBucket(bucketID, version,
		[]string{StatusCollecting, StatusReviewing, StatusStaged},
		func(tx *sql.Tx, b Bucket) error {
			var currentSeq string
			err := tx.QueryRow(`SELECT sequence FROM harvest_passages WHERE id = ? AND bucket_id = ?`,
				passageID, bucketID).Scan(&currentSeq)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: passage %s", graph.ErrNotFound, passageID)
			}
			if err != nil {
				return err
			}

			var maxPos sql.NullInt64
			if err := tx.QueryRow(`SELECT MAX(position) FROM harvest_passages WHERE bucket_id = ? AND sequence = ?`,
				bucketID, toSeq).Scan(&maxPos); err != nil {
				return err
			}

			if toSeq == SeqCandidate {
				_, err = tx.Exec(`
					UPDATE harvest_passages
					SET sequence = ?, position = ?, curation_status = NULL, curation_reason = NULL, curated_at = NULL
					WHERE id = ?`,
					toSeq, maxPos.Int64+1, passageID)
			} else {
				_, err = tx.Exec(`
					UPDATE harvest_passages
					SET sequence = ?, position = ?, curation_status = ?, curation_reason = ?, curated_at = ?
					WHERE id = ?`,
					toSeq, maxPos.Int64+1, toSeq, nullStr(reason),
					time.Now().UTC().Format(time.RFC3339), passageID)
			}
			if err != nil {
				return fmt.Errorf("moving passage: %w", err)
			}
			return nil
		})
}

// Stage freezes a reviewed bucket for commit. At least one passage must be
// approved or marked a gem; a bucket where everything was rejected has
// nothing to commit.
func (s *Store) Stage(bucketID string, version int) (Bucket, error) {
	return s.withBucket(bucketID, version, []string{StatusReviewing}, func(tx *sql.Tx, b Bucket) error {
		var keep int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM harvest_passages
			WHERE bucket_id = ? AND sequence IN (?, ?)`,
			bucketID, SeqApproved, SeqGem).Scan(&keep)
		if err != nil {
			return err
		}
		if keep == 0 {
			return fmt.Errorf("%w: nothing approved to stage", graph.ErrInvalidState)
		}
		_, err = tx.Exec(`UPDATE harvest_buckets SET status = ? WHERE id = ?`, StatusStaged, bucketID)
		return err
	})
}

// Commit copies the approved and gem passages of a staged bucket into the
// book, then closes the bucket. The copy and the status change are one
// transaction; a failed commit leaves the bucket staged.
func (s *Store) Commit(bucketID string, version int) (Bucket, error) {
	return s.withBucket(bucketID, version, []string{StatusStaged}, func(tx *sql.Tx, b Bucket) error {
		rows, err := tx.Query(`
			SELECT id, node_id, text, source, sequence FROM harvest_passages
			WHERE bucket_id = ? AND sequence IN (?, ?)
			ORDER BY sequence ASC, position ASC`,
			bucketID, SeqApproved, SeqGem)
		if err != nil {
			return err
		}

		type kept struct {
			nodeID, text, source, seq string
		}
		var passages []kept
		for rows.Next() {
			var id string
			var nodeID, source sql.NullString
			var text, seq string
			if err := rows.Scan(&id, &nodeID, &text, &source, &seq); err != nil {
				rows.Close()
				return err
			}
			passages = append(passages, kept{nodeID.String, text, source.String, seq})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, p := range passages {
			_, err := tx.Exec(`
				INSERT INTO book_passages (id, book_id, node_id, text, source, curation_status, committed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), b.BookID, nullStr(p.nodeID), p.text, nullStr(p.source), p.seq, now)
			if err != nil {
				return fmt.Errorf("committing passage to book: %w", err)
			}
		}

		_, err = tx.Exec(`UPDATE harvest_buckets SET status = ?, finalized_at = ? WHERE id = ?`,
			StatusCommitted, now, bucketID)
		return err
	})
}

// Discard abandons a bucket from any non-terminal status. Collected passages
// stay readable for the record; nothing reaches the book.
func (s *Store) Discard(bucketID string, version int) (Bucket, error) {
	return s.withBucket(bucketID, version,
		[]string{StatusCollecting, StatusReviewing, StatusStaged},
		func(tx *sql.Tx, b Bucket) error {
			_, err := tx.Exec(`UPDATE harvest_buckets SET status = ?, finalized_at = ? WHERE id = ?`,
				StatusDiscarded, time.Now().UTC().Format(time.RFC3339), bucketID)
			return err
		})
}

func (s *Store) getPassage(bucketID, passageID string) (Passage, error) {
	return scanPassage(s.db.QueryRow(`
		SELECT id, bucket_id, sequence, position, node_id, text, source,
			curation_status, curation_reason, curated_at, added_at
		FROM harvest_passages WHERE id = ? AND bucket_id = ?`, passageID, bucketID))
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
