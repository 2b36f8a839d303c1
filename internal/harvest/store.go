package harvest

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomkit/loom/internal/graph"
)

// Store persists books, buckets, and passages. It shares the graph database;
// the tables come from the same migration set.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateBook creates a book to harvest into.
func (s *Store) CreateBook(title string) (Book, error) {
	if strings.TrimSpace(title) == "" {
		return Book{}, fmt.Errorf("%w: title is required", graph.ErrValidation)
	}
	b := Book{ID: uuid.New().String(), Title: title, CreatedAt: time.Now().UTC()}
	_, err := s.db.Exec("INSERT INTO books (id, title, created_at) VALUES (?, ?, ?)",
		b.ID, b.Title, b.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Book{}, fmt.Errorf("creating book: %w", err)
	}
	return b, nil
}

// GetBook returns a book by ID, or ErrNotFound.
func (s *Store) GetBook(id string) (Book, error) {
	var b Book
	var createdAt string
	err := s.db.QueryRow("SELECT id, title, created_at FROM books WHERE id = ?", id).
		Scan(&b.ID, &b.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Book{}, graph.ErrNotFound
	}
	if err != nil {
		return Book{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Book{}, fmt.Errorf("parsing created_at for book %s: %w", b.ID, err)
	}
	return b, nil
}

// ListBooks returns all books, newest first.
func (s *Store) ListBooks() ([]Book, error) {
	rows, err := s.db.Query("SELECT id, title, created_at FROM books ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var b Book
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Title, &createdAt); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for book %s: %w", b.ID, err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// BookPassages returns the committed passages of a book in commit order.
func (s *Store) BookPassages(bookID string) ([]BookPassage, error) {
	if _, err := s.GetBook(bookID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id, book_id, node_id, text, source, curation_status, committed_at
		FROM book_passages WHERE book_id = ? ORDER BY committed_at ASC, id ASC`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []BookPassage
	for rows.Next() {
		var p BookPassage
		var nodeID, source sql.NullString
		var committedAt string
		if err := rows.Scan(&p.ID, &p.BookID, &nodeID, &p.Text, &source, &p.CurationStatus, &committedAt); err != nil {
			return nil, err
		}
		p.NodeID = nodeID.String
		p.Source = source.String
		if p.CommittedAt, err = time.Parse(time.RFC3339, committedAt); err != nil {
			return nil, fmt.Errorf("parsing committed_at for passage %s: %w", p.ID, err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// CreateBucket opens a new harvest bucket for a book, in collecting state.
func (s *Store) CreateBucket(bookID string) (Bucket, error) {
	if _, err := s.GetBook(bookID); err != nil {
		return Bucket{}, err
	}
	b := Bucket{
		ID:        uuid.New().String(),
		BookID:    bookID,
		Status:    StatusCollecting,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO harvest_buckets (id, book_id, status, version, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.BookID, b.Status, b.Version, b.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Bucket{}, fmt.Errorf("creating bucket: %w", err)
	}
	return b, nil
}

// GetBucket returns a bucket with its per-sequence counts, or ErrNotFound.
func (s *Store) GetBucket(id string) (Bucket, error) {
	b, err := scanBucket(s.db.QueryRow(`
		SELECT id, book_id, status, version, created_at, collecting_finished_at, finalized_at
		FROM harvest_buckets WHERE id = ?`, id))
	if err != nil {
		return Bucket{}, err
	}

	rows, err := s.db.Query(`
		SELECT sequence, COUNT(*) FROM harvest_passages WHERE bucket_id = ? GROUP BY sequence`, id)
	if err != nil {
		return Bucket{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq string
		var n int
		if err := rows.Scan(&seq, &n); err != nil {
			return Bucket{}, err
		}
		switch seq {
		case SeqCandidate:
			b.Candidates = n
		case SeqApproved:
			b.Approved = n
		case SeqGem:
			b.Gems = n
		case SeqRejected:
			b.Rejected = n
		}
	}
	return b, rows.Err()
}

// ListBuckets returns the buckets of a book, newest first. An empty bookID
// lists all buckets.
func (s *Store) ListBuckets(bookID string) ([]Bucket, error) {
	q := `SELECT id, book_id, status, version, created_at, collecting_finished_at, finalized_at
		FROM harvest_buckets`
	var args []any
	if bookID != "" {
		q += " WHERE book_id = ?"
		args = append(args, bookID)
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Passages returns a bucket's passages, optionally restricted to one
// sequence, in position order.
func (s *Store) Passages(bucketID, sequence string) ([]Passage, error) {
	if _, err := s.GetBucket(bucketID); err != nil {
		return nil, err
	}

	q := `SELECT id, bucket_id, sequence, position, node_id, text, source,
		curation_status, curation_reason, curated_at, added_at
		FROM harvest_passages WHERE bucket_id = ?`
	args := []any{bucketID}
	if sequence != "" {
		q += " AND sequence = ?"
		args = append(args, sequence)
	}
	q += " ORDER BY sequence ASC, position ASC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (Bucket, error) {
	var b Bucket
	var createdAt string
	var finishedAt, finalizedAt sql.NullString
	err := row.Scan(&b.ID, &b.BookID, &b.Status, &b.Version, &createdAt, &finishedAt, &finalizedAt)
	if err == sql.ErrNoRows {
		return Bucket{}, graph.ErrNotFound
	}
	if err != nil {
		return Bucket{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Bucket{}, fmt.Errorf("parsing created_at for bucket %s: %w", b.ID, err)
	}
	if b.CollectingFinishedAt, err = parseNullTime(finishedAt); err != nil {
		return Bucket{}, err
	}
	if b.FinalizedAt, err = parseNullTime(finalizedAt); err != nil {
		return Bucket{}, err
	}
	return b, nil
}

func scanPassage(row rowScanner) (Passage, error) {
	var p Passage
	var nodeID, source, curStatus, curReason, curatedAt sql.NullString
	var addedAt string
	err := row.Scan(&p.ID, &p.BucketID, &p.Sequence, &p.Position, &nodeID, &p.Text, &source,
		&curStatus, &curReason, &curatedAt, &addedAt)
	if err == sql.ErrNoRows {
		return Passage{}, graph.ErrNotFound
	}
	if err != nil {
		return Passage{}, err
	}
	p.NodeID = nodeID.String
	p.Source = source.String
	p.CurationStatus = curStatus.String
	p.CurationReason = curReason.String
	if p.CuratedAt, err = parseNullTime(curatedAt); err != nil {
		return Passage{}, err
	}
	if p.AddedAt, err = time.Parse(time.RFC3339, addedAt); err != nil {
		return Passage{}, fmt.Errorf("parsing added_at for passage %s: %w", p.ID, err)
	}
	return p, nil
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, ns.String)
}
