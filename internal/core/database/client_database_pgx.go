package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/astra-intelligence/astra-ingest/internal/config"
	"github.com/astra-intelligence/astra-ingest/internal/core"
	"github.com/astra-intelligence/astra-ingest/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// CreateDocument writes the document row, replacing any prior row with the
// same id. Re-running an ingestion attempt with the same document id resets
// the row to its fresh state instead of tripping the primary key.
func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, team_id, original_filename, mime_type, category, uploaded_by,
			 storage_path, file_size_bytes, status, uploaded_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($11, now()))
		ON CONFLICT (id) DO UPDATE SET
			team_id           = EXCLUDED.team_id,
			original_filename = EXCLUDED.original_filename,
			mime_type         = EXCLUDED.mime_type,
			category          = EXCLUDED.category,
			uploaded_by       = EXCLUDED.uploaded_by,
			storage_path      = EXCLUDED.storage_path,
			file_size_bytes   = EXCLUDED.file_size_bytes,
			status            = EXCLUDED.status,
			updated_at        = now()
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.TeamID, doc.OriginalFilename, doc.MimeType, doc.Category, doc.UploadedBy,
		doc.StoragePath, doc.FileSizeBytes, doc.Status, doc.UploadedAt, doc.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, teamID, id string) (*models.Document, error) {
	const q = `
		SELECT id, team_id, original_filename, mime_type, category, uploaded_by,
		       storage_path, file_size_bytes, status, uploaded_at, updated_at
		FROM documents
		WHERE team_id = $1 AND id = $2
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, teamID, id).Scan(
		&d.ID, &d.TeamID, &d.OriginalFilename, &d.MimeType, &d.Category, &d.UploadedBy,
		&d.StoragePath, &d.FileSizeBytes, &d.Status, &d.UploadedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByTeam(ctx context.Context, teamID string) ([]models.Document, error) {
	const q = `
		SELECT id, team_id, original_filename, mime_type, category, uploaded_by,
		       storage_path, file_size_bytes, status, uploaded_at, updated_at
		FROM documents
		WHERE team_id = $1
		ORDER BY uploaded_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.TeamID, &d.OriginalFilename, &d.MimeType, &d.Category, &d.UploadedBy,
			&d.StoragePath, &d.FileSizeBytes, &d.Status, &d.UploadedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, teamID, id string) error {
	// Chunk rows go with the document via ON DELETE CASCADE.
	const q = `DELETE FROM documents WHERE team_id = $1 AND id = $2`
	res, err := c.db.ExecContext(ctx, q, teamID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// UpsertChunks writes one batch of chunks in a single transaction. Conflicts
// on (team_id, document_id, chunk_index) replace the existing row, so
// re-running an ingestion attempt repairs a partial prior write instead of
// duplicating it. Rows above the batch's highest index are deleted in the
// same transaction; a re-ingestion that yields fewer chunks cannot leave
// stale tail rows active.
func (c *DatabaseClient) UpsertChunks(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}

	const q = `
		INSERT INTO document_chunks
			(team_id, document_id, chunk_index, content, chunk_start, chunk_end,
			 embedding, doc_category, sync_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (team_id, document_id, chunk_index) DO UPDATE SET
			content      = EXCLUDED.content,
			chunk_start  = EXCLUDED.chunk_start,
			chunk_end    = EXCLUDED.chunk_end,
			embedding    = EXCLUDED.embedding,
			doc_category = EXCLUDED.doc_category,
			sync_status  = EXCLUDED.sync_status,
			created_at   = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	type docKey struct{ teamID, documentID string }
	maxIndex := make(map[docKey]int)
	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.TeamID, ch.DocumentID, ch.ChunkIndex, ch.Content, ch.ChunkStart, ch.ChunkEnd,
			vec, ch.DocCategory, ch.SyncStatus,
		); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		k := docKey{ch.TeamID, ch.DocumentID}
		if cur, ok := maxIndex[k]; !ok || ch.ChunkIndex > cur {
			maxIndex[k] = ch.ChunkIndex
		}
	}

	const trim = `
		DELETE FROM document_chunks
		WHERE team_id = $1 AND document_id = $2 AND chunk_index > $3
	`
	for k, idx := range maxIndex {
		if _, err := tx.ExecContext(ctx, trim, k.teamID, k.documentID, idx); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, teamID, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT team_id, document_id, chunk_index, content, chunk_start, chunk_end,
		       embedding, doc_category, sync_status, created_at
		FROM document_chunks
		WHERE team_id = $1 AND document_id = $2
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, teamID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.TeamID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.ChunkStart, &ch.ChunkEnd,
			&emb, &ch.DocCategory, &ch.SyncStatus, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) MarkChunksSuperseded(ctx context.Context, teamID, documentID string) error {
	const q = `
		UPDATE document_chunks
		SET sync_status = 'superseded'
		WHERE team_id = $1 AND document_id = $2 AND sync_status = 'active'
	`
	_, err := c.db.ExecContext(ctx, q, teamID, documentID)
	return err
}

// SearchChunks finds top-k similar active chunks within a document for a
// query embedding, nearest first by pgvector L2 distance.
func (c *DatabaseClient) SearchChunks(ctx context.Context, teamID, documentID string, queryVec []float32, limit int) ([]models.Chunk, error) {
	const q = `
		SELECT team_id, document_id, chunk_index, content, chunk_start, chunk_end,
		       embedding, doc_category, sync_status, created_at
		FROM document_chunks
		WHERE team_id = $1 AND document_id = $2 AND sync_status = 'active'
		ORDER BY embedding <-> $3
		LIMIT $4
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, teamID, documentID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.TeamID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.ChunkStart, &ch.ChunkEnd,
			&emb, &ch.DocCategory, &ch.SyncStatus, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}
