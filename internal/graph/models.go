package graph

import "time"

// ContentNode is one immutable unit of content: a chunk, a full document, or
// a summary level of the pyramid. Updates never mutate a row; they append a
// new row with an incremented VersionNumber and ParentID set to the prior row.
type ContentNode struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
	URI         string `json:"uri"`

	Text       string `json:"text"`
	Format     string `json:"format"`
	Rendered   string `json:"rendered,omitempty"`
	BinaryHash string `json:"binary_hash,omitempty"`

	Title          string            `json:"title,omitempty"`
	Author         string            `json:"author,omitempty"`
	WordCount      int               `json:"word_count"`
	Language       string            `json:"language,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`

	SourceType         string `json:"source_type"`
	SourceAdapter      string `json:"source_adapter,omitempty"`
	SourceOriginalID   string `json:"source_original_id,omitempty"`
	SourceOriginalPath string `json:"source_original_path,omitempty"`
	ImportBatch        string `json:"import_batch,omitempty"`

	VersionNumber int    `json:"version_number"`
	ParentID      string `json:"parent_id,omitempty"`
	RootID        string `json:"root_id"`
	Operation     string `json:"operation,omitempty"`
	OperatorID    string `json:"operator_id,omitempty"`

	ParentNodeID     string `json:"parent_node_id,omitempty"`
	ChunkIndex       int    `json:"chunk_index"`
	ChunkStartOffset int    `json:"chunk_start_offset"`
	ChunkEndOffset   int    `json:"chunk_end_offset"`
	HierarchyLevel   int    `json:"hierarchy_level"`
	ThreadRootID     string `json:"thread_root_id,omitempty"`

	EmbeddingModel    string    `json:"embedding_model,omitempty"`
	EmbeddedAt        time.Time `json:"embedded_at,omitzero"`
	EmbeddingTextHash string    `json:"embedding_text_hash,omitempty"`

	IngestedFromTable string    `json:"ingested_from_table,omitempty"`
	IngestedFromID    string    `json:"ingested_from_id,omitempty"`
	IngestedAt        time.Time `json:"ingested_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
}

// NodeInput carries the caller-supplied fields for CreateNode. Text and
// SourceType are required; everything else is optional.
type NodeInput struct {
	Text           string
	Format         string
	Rendered       string
	BinaryHash     string
	Title          string
	Author         string
	Language       string
	Tags           []string
	SourceMetadata map[string]string

	URI                string
	SourceType         string
	SourceAdapter      string
	SourceOriginalID   string
	SourceOriginalPath string
	ImportBatch        string

	ParentNodeID     string
	ChunkIndex       int
	ChunkStartOffset int
	ChunkEndOffset   int
	HierarchyLevel   int
	ThreadRootID     string

	Operation  string
	OperatorID string

	IngestedFromTable string
	IngestedFromID    string
}

// NodePatch holds the updatable fields for UpdateNode. Nil pointers mean
// "keep the current value".
type NodePatch struct {
	Text     *string
	Title    *string
	Rendered *string
	Tags     []string
}

// NodeFilter is a conjunctive filter for QueryNodes.
type NodeFilter struct {
	SourceType     string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	Tags           []string
	HierarchyLevel *int
	ThreadRootID   string
	ImportBatch    string
	Limit          int
	Offset         int
}

// ContentLink is a directed, typed relationship between two nodes. Anchor
// spans (when set) narrow the link to a character range on either side.
type ContentLink struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	Type        string    `json:"type"`
	Strength    float64   `json:"strength"`
	SourceStart int       `json:"source_start,omitempty"`
	SourceEnd   int       `json:"source_end,omitempty"`
	TargetStart int       `json:"target_start,omitempty"`
	TargetEnd   int       `json:"target_end,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Link types with derivation semantics, followed forward by LinkGraph.Derivatives.
const (
	LinkVersionOf   = "version-of"
	LinkDerivedFrom = "derived-from"
	LinkParent      = "parent"
	LinkChild       = "child"
	LinkReferences  = "references"
	LinkRelatedTo   = "related-to"
	LinkFollows     = "follows"
	LinkRespondsTo  = "responds-to"
)

// ContentVersion is one append-only audit row per version transition. It
// records that a transition happened; the content itself lives on the node.
type ContentVersion struct {
	ID              string    `json:"id"`
	NodeID          string    `json:"node_id"`
	VersionNumber   int       `json:"version_number"`
	ParentVersionID string    `json:"parent_version_id,omitempty"`
	Operation       string    `json:"operation"`
	OperatorID      string    `json:"operator_id,omitempty"`
	ChangeSummary   string    `json:"change_summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ImportBatch groups nodes created by one ingestion or migration run.
type ImportBatch struct {
	ID             string    `json:"id"`
	SourceType     string    `json:"source_type"`
	Status         string    `json:"status"` // "pending", "running", "completed", "failed"
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	FailedItems    int       `json:"failed_items"`
	Errors         []string  `json:"errors,omitempty"` // capped at MaxBatchErrors
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
}

// MaxBatchErrors caps the per-batch error log.
const MaxBatchErrors = 100

// ContentQuality is the 1:1 per-node quality assessment produced by an
// external analyzer. All scores are in [0,1].
type ContentQuality struct {
	NodeID       string    `json:"node_id"`
	Authenticity float64   `json:"authenticity"`
	Necessity    float64   `json:"necessity"`
	Inflection   float64   `json:"inflection"`
	Voice        float64   `json:"voice"`
	Overall      float64   `json:"overall"`
	StubType     string    `json:"stub_type,omitempty"`
	Detail       string    `json:"detail,omitempty"` // JSON blob
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// Job is one row in the embedded job queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Stats is a corpus-level summary for the /stats endpoint.
type Stats struct {
	Nodes         int            `json:"nodes"`
	Links         int            `json:"links"`
	Versions      int            `json:"versions"`
	Vectors       int            `json:"vectors"`
	Buckets       int            `json:"buckets"`
	Books         int            `json:"books"`
	NodesBySource map[string]int `json:"nodes_by_source"`
}
