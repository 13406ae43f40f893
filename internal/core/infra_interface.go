package core

import (
	"context"

	"github.com/astra-intelligence/astra-ingest/internal/models"
)

// DbClient defines all persistence operations the ingestion service needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	// CreateDocument writes the document row, replacing any existing row
	// with the same id so an ingestion attempt can be re-run end to end.
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, teamID, id string) (*models.Document, error)
	ListDocumentsByTeam(ctx context.Context, teamID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	DeleteDocument(ctx context.Context, teamID, id string) error

	// UpsertChunks writes one batch of chunks in a single transaction,
	// replacing any existing rows on (team_id, document_id, chunk_index)
	// and deleting rows above the batch's highest index per document.
	// Returns the number of rows written.
	UpsertChunks(ctx context.Context, chunks []models.Chunk) (int, error)
	GetChunksByDocument(ctx context.Context, teamID, documentID string) ([]models.Chunk, error)
	MarkChunksSuperseded(ctx context.Context, teamID, documentID string) error
	SearchChunks(ctx context.Context, teamID, documentID string, queryVec []float32, limit int) ([]models.Chunk, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// Abstract so AWS can be swapped for MinIO, GCS, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// Notifier pushes a best-effort event to a downstream consumer
// (the document classifier webhook). Failures are never fatal for ingestion.
type Notifier interface {
	DocumentIngested(ctx context.Context, teamID, documentID, fileName, triggerSource string) error
}
