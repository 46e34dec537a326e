package domain

import "time"

// Confidence is the discrete reliability label attached to an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Document is the metadata record of an ingested file. Its chunks live only
// in the vector index and reference it by ID.
type Document struct {
	ID          string
	Title       string
	Description string
	FileName    string
	FilePath    string
	FileSize    int64
	PageCount   int
	ChunkCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatEntry is the persisted projection of one answered question.
// Entries are append-only.
type ChatEntry struct {
	ID          string
	Question    string
	Answer      string
	Confidence  Confidence
	TopK        int
	DocumentIDs []string
	CreatedAt   time.Time
}
