package types

import "time"

// ChunkMetadata carries the provenance of a chunk back to its source document.
type ChunkMetadata struct {
	Source      string `json:"source"`
	DisplayName string `json:"display_name"`
	Page        int    `json:"page"`
	OCR         bool   `json:"ocr,omitempty"`
}

// Chunk is a bounded text window cut from one document. It is the unit of
// embedding and retrieval; immutable once produced by the loader.
type Chunk struct {
	Text     string
	Metadata ChunkMetadata
}

// IndexedEntry is what the compact index keeps per chunk: a short snippet
// for similarity ranking plus the doc_id that keys the full text on disk.
type IndexedEntry struct {
	DocID       string `json:"doc_id"`
	Snippet     string `json:"snippet"`
	Source      string `json:"source"`
	DisplayName string `json:"display_name"`
	Page        int    `json:"page"`
	OCR         bool   `json:"ocr,omitempty"`
}

// ScoredEntry pairs an index entry with its similarity score.
type ScoredEntry struct {
	Entry IndexedEntry
	Score float64
}

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// Job tracks one background ingestion run triggered by an upload.
// Mutated only by its owning goroutine, read by status queries.
type Job struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail"`
	StartedAt time.Time `json:"started_at"`
}

// Source describes one cited passage in an answer.
type Source struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
}

// Answer is the non-streaming response of the ask pipeline.
type Answer struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}
