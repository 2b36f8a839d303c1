// Package harvest implements the passage curation workflow: passages are
// collected into a bucket, triaged during review, staged, and finally
// committed into a book or discarded.
package harvest

import "time"

// Bucket statuses. Transitions are linear except Discard, which is reachable
// from any non-terminal status:
//
//	collecting -> reviewing -> staged -> committed
//	           \__________ discarded __________/
const (
	StatusCollecting = "collecting"
	StatusReviewing  = "reviewing"
	StatusStaged     = "staged"
	StatusCommitted  = "committed"
	StatusDiscarded  = "discarded"
)

// Passage sequences inside a bucket. Every passage lives in exactly one.
const (
	SeqCandidate = "candidate"
	SeqApproved  = "approved"
	SeqGem       = "gem"
	SeqRejected  = "rejected"
)

// Book is a curated collection that committed passages land in.
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// BookPassage is a passage permanently committed to a book.
type BookPassage struct {
	ID             string    `json:"id"`
	BookID         string    `json:"book_id"`
	NodeID         string    `json:"node_id,omitempty"`
	Text           string    `json:"text"`
	Source         string    `json:"source,omitempty"`
	CurationStatus string    `json:"curation_status"` // "approved" or "gem"
	CommittedAt    time.Time `json:"committed_at"`
}

// Bucket is one harvest run. Version increments on every mutation; callers
// pass the version they read and stale writers get a conflict.
type Bucket struct {
	ID                   string    `json:"id"`
	BookID               string    `json:"book_id"`
	Status               string    `json:"status"`
	Version              int       `json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	CollectingFinishedAt time.Time `json:"collecting_finished_at,omitzero"`
	FinalizedAt          time.Time `json:"finalized_at,omitzero"`

	Candidates int `json:"candidates"`
	Approved   int `json:"approved"`
	Gems       int `json:"gems"`
	Rejected   int `json:"rejected"`
}

// Passage is one collected passage inside a bucket.
type Passage struct {
	ID             string    `json:"id"`
	BucketID       string    `json:"bucket_id"`
	Sequence       string    `json:"sequence"`
	Position       int       `json:"position"`
	NodeID         string    `json:"node_id,omitempty"`
	Text           string    `json:"text"`
	Source         string    `json:"source,omitempty"`
	CurationStatus string    `json:"curation_status,omitempty"`
	CurationReason string    `json:"curation_reason,omitempty"`
	CuratedAt      time.Time `json:"curated_at,omitzero"`
	AddedAt        time.Time `json:"added_at"`
}

// PassageInput carries the caller-supplied fields for Collect.
type PassageInput struct {
	NodeID string
	Text   string
	Source string
}
