package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/core"
	"github.com/astra-intelligence/astra-ingest/internal/models"
)

// Request describes one ingestion attempt for one already-uploaded object.
type Request struct {
	UploadID    string `json:"uploadId"`
	StoragePath string `json:"storagePath"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	TeamID      string `json:"teamId"`
	UserID      string `json:"userId"`
	Category    string `json:"category,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`

	// ReplacesDocumentID, when set, marks that document's chunks superseded
	// once the new chunk set is durable (drive re-sync path).
	ReplacesDocumentID string `json:"replacesDocumentId,omitempty"`

	// DocumentID lets a caller reuse an identifier when re-running a failed
	// attempt; left empty, a fresh one is generated.
	DocumentID string `json:"documentId,omitempty"`
}

// Result is the outcome of a successful ingestion attempt.
type Result struct {
	DocumentID     string `json:"documentId"`
	ChunkCount     int    `json:"chunkCount"`
	CharacterCount int    `json:"characterCount"`

	// Notified reports whether the best-effort classifier webhook went
	// through. It never affects success.
	Notified bool `json:"notified"`
}

// PipelineConfig tunes one Pipeline instance.
type PipelineConfig struct {
	Bucket         string
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64
}

// Pipeline orchestrates one ingestion attempt end-to-end:
// download -> extract -> segment -> embed -> upsert -> notify.
// Steps run strictly sequentially; every step is pure or idempotent, so the
// recovery path for any failure is simply re-running the pipeline.
type Pipeline struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.TextExtractor
	embedder  *EmbedClient
	notifier  core.Notifier
	cfg       PipelineConfig
	log       *zap.Logger
}

func NewPipeline(db core.DbClient, obj core.ObjectClient, extractor core.TextExtractor, embedder *EmbedClient, notifier core.Notifier, cfg PipelineConfig, log *zap.Logger) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = DefaultOverlap
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{db: db, obj: obj, extractor: extractor, embedder: embedder, notifier: notifier, cfg: cfg, log: log}
}

// Run executes one ingestion attempt. Fatal errors are returned wrapped in
// the pipeline taxonomy; the document row, if created, is marked failed on a
// best-effort basis so re-running the same request can repair state.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	category := req.Category
	if category == "" {
		category = "other"
	}

	log := p.log.With(zap.String("document_id", docID), zap.String("team_id", req.TeamID))

	now := time.Now()
	doc := &models.Document{
		ID:               docID,
		TeamID:           req.TeamID,
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		Category:         category,
		UploadedBy:       req.UserID,
		StoragePath:      req.StoragePath,
		FileSizeBytes:    req.FileSize,
		Status:           models.StatusProcessing,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	if err := p.db.CreateDocument(ctx, doc); err != nil {
		return nil, &StorageWriteError{Err: fmt.Errorf("create document: %w", err)}
	}

	raw, err := p.obj.GetFile(ctx, p.cfg.Bucket, req.StoragePath)
	if err != nil {
		p.markFailed(ctx, docID)
		return nil, fmt.Errorf("%w: fetch %q: %v", ErrStorageUnavailable, req.StoragePath, err)
	}
	if p.cfg.MaxUploadBytes > 0 && int64(len(raw)) > p.cfg.MaxUploadBytes {
		p.markFailed(ctx, docID)
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrBadRequest, len(raw), p.cfg.MaxUploadBytes)
	}

	text, err := p.extractor.ExtractText(ctx, raw, req.MimeType)
	if err != nil {
		p.markFailed(ctx, docID)
		return nil, &ExtractionError{MimeType: req.MimeType, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		p.markFailed(ctx, docID)
		return nil, ErrEmptyContent
	}
	log.Info("text extracted", zap.Int("characters", utf8.RuneCountInString(text)))

	segs, err := SegmentText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		p.markFailed(ctx, docID)
		return nil, err
	}

	texts := make([]string, len(segs))
	for i := range segs {
		texts[i] = segs[i].Content
	}
	vecs, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		// No chunks are ever persisted without embeddings.
		p.markFailed(ctx, docID)
		return nil, err
	}
	if len(vecs) != len(segs) {
		p.markFailed(ctx, docID)
		return nil, fmt.Errorf("segment/vector count mismatch: %d segments, %d vectors", len(segs), len(vecs))
	}

	chunks := make([]models.Chunk, len(segs))
	for i, s := range segs {
		chunks[i] = models.Chunk{
			TeamID:      req.TeamID,
			DocumentID:  docID,
			ChunkIndex:  s.Index,
			Content:     s.Content,
			ChunkStart:  s.Start,
			ChunkEnd:    s.End,
			Embedding:   vecs[i],
			DocCategory: category,
			SyncStatus:  models.SyncActive,
		}
	}

	written, err := p.db.UpsertChunks(ctx, chunks)
	if err != nil {
		p.markFailed(ctx, docID)
		return nil, &StorageWriteError{Err: err}
	}
	log.Info("chunks stored", zap.Int("count", written))

	if req.ReplacesDocumentID != "" {
		if err := p.db.MarkChunksSuperseded(ctx, req.TeamID, req.ReplacesDocumentID); err != nil {
			p.markFailed(ctx, docID)
			return nil, &StorageWriteError{Err: fmt.Errorf("supersede %s: %w", req.ReplacesDocumentID, err)}
		}
	}

	if err := p.db.UpdateDocumentStatus(ctx, docID, models.StatusReady); err != nil {
		return nil, &StorageWriteError{Err: err}
	}

	notified := true
	if err := p.notifier.DocumentIngested(ctx, req.TeamID, docID, req.Filename, "ingest"); err != nil {
		// Classification is optional enrichment; ingestion already succeeded.
		log.Warn("classifier notification failed", zap.Error(err))
		notified = false
	}

	return &Result{
		DocumentID:     docID,
		ChunkCount:     written,
		CharacterCount: utf8.RuneCountInString(text),
		Notified:       notified,
	}, nil
}

func (p *Pipeline) validate(req Request) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"storagePath", req.StoragePath},
		{"filename", req.Filename},
		{"mimeType", req.MimeType},
		{"teamId", req.TeamID},
		{"userId", req.UserID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing fields %s", ErrBadRequest, strings.Join(missing, ", "))
	}
	if !p.extractor.Supports(req.MimeType) {
		return fmt.Errorf("%w: unsupported mime type %q", ErrBadRequest, req.MimeType)
	}
	return nil
}

func (p *Pipeline) markFailed(ctx context.Context, docID string) {
	if err := p.db.UpdateDocumentStatus(ctx, docID, models.StatusFailed); err != nil {
		p.log.Warn("could not mark document failed", zap.String("document_id", docID), zap.Error(err))
	}
}
