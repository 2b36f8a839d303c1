package graph

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// PutBlob stores a binary payload content-addressed by its SHA-256 and
// returns the hash. Storing the same bytes twice is a no-op.
func (s *Store) PutBlob(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: blob data is required", ErrValidation)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	_, err := s.db.Exec(`
		INSERT INTO content_blobs (hash, data, size, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		hash, data, len(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return hash, nil
}

// GetBlob returns the payload for the given hash, or ErrNotFound.
func (s *Store) GetBlob(hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM content_blobs WHERE hash = ?", hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}
