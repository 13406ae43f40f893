package models

import (
	"time"
)

// Document represents one ingested file owned by a team.
type Document struct {
	ID               string    `db:"id" json:"id"`
	TeamID           string    `db:"team_id" json:"team_id"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	MimeType         string    `db:"mime_type" json:"mime_type"`
	Category         string    `db:"category" json:"category"` // classification label, "other" by default
	UploadedBy       string    `db:"uploaded_by" json:"uploaded_by"`
	StoragePath      string    `db:"storage_path" json:"storage_path"` // key into the object store
	FileSizeBytes    int64     `db:"file_size_bytes" json:"file_size_bytes"`
	Status           string    `db:"status" json:"status"` // processing | ready | failed
	UploadedAt       time.Time `db:"uploaded_at" json:"uploaded_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one contiguous slice of a document's extracted text together
// with its embedding. (team_id, document_id, chunk_index) is the unique key;
// re-ingestion replaces rows through that key.
type Chunk struct {
	TeamID      string    `db:"team_id" json:"team_id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"` // 0-based, dense
	Content     string    `db:"content" json:"content"`
	ChunkStart  int       `db:"chunk_start" json:"chunk_start"` // rune offsets into the extracted text
	ChunkEnd    int       `db:"chunk_end" json:"chunk_end"`
	Embedding   []float32 `db:"embedding" json:"embedding"` // pgvector column
	DocCategory string    `db:"doc_category" json:"doc_category"`
	SyncStatus  string    `db:"sync_status" json:"sync_status"` // active | superseded
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Chunk sync states.
const (
	SyncActive     = "active"
	SyncSuperseded = "superseded"
)

// Document processing states.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)
