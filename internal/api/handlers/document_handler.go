package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/api/middlewares"
	"github.com/astra-intelligence/astra-ingest/internal/config"
	"github.com/astra-intelligence/astra-ingest/internal/core"
	"github.com/astra-intelligence/astra-ingest/internal/ingest"
)

type DocumentHandler struct {
	db       core.DbClient
	obj      core.ObjectClient
	pipeline *ingest.Pipeline
	embedder core.EmbeddingProvider
	cfg      *config.Config
	log      *zap.Logger
}

func NewDocumentHandler(db core.DbClient, obj core.ObjectClient, pipeline *ingest.Pipeline, embedder core.EmbeddingProvider, cfg *config.Config, log *zap.Logger) *DocumentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentHandler{db: db, obj: obj, pipeline: pipeline, embedder: embedder, cfg: cfg, log: log}
}

type processResponse struct {
	Success        bool   `json:"success"`
	DocumentID     string `json:"documentId"`
	ChunkCount     int    `json:"chunkCount"`
	CharacterCount int    `json:"characterCount"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ProcessDocument runs one ingestion attempt for an object already sitting
// in storage. Request/response shapes follow the upload flow's contract.
func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Details: err.Error()})
		return
	}

	teamID, _ := middlewares.TeamID(r.Context())
	if req.TeamID != teamID {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "team mismatch"})
		return
	}

	res, err := h.pipeline.Run(r.Context(), req)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		Success:        true,
		DocumentID:     res.DocumentID,
		ChunkCount:     res.ChunkCount,
		CharacterCount: res.CharacterCount,
	})
}

// UploadDocument accepts a multipart upload, stores the object under
// team/<docID>/<file> and ingests it synchronously.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	teamID, _ := middlewares.TeamID(r.Context())
	userID, _ := middlewares.UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form", Details: err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid file"})
		return
	}
	defer file.Close()

	if header.Size > h.cfg.MaxUploadBytes {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "file too large",
			Details: fmt.Sprintf("limit is %d bytes", h.cfg.MaxUploadBytes),
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "read upload", Details: err.Error()})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Strip any path components before the name goes into the object key.
	cleanFilename := filepath.Base(header.Filename)
	docID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", teamID, docID, cleanFilename)

	if _, err := h.obj.UploadFile(r.Context(), h.cfg.BucketName, key, data, contentType); err != nil {
		h.log.Error("upload to object store failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upload failed", Details: err.Error()})
		return
	}

	res, err := h.pipeline.Run(r.Context(), ingest.Request{
		UploadID:    docID,
		DocumentID:  docID,
		StoragePath: key,
		Filename:    cleanFilename,
		MimeType:    contentType,
		TeamID:      teamID,
		UserID:      userID,
		Category:    r.FormValue("category"),
		FileSize:    header.Size,
	})
	if err != nil {
		h.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		Success:        true,
		DocumentID:     res.DocumentID,
		ChunkCount:     res.ChunkCount,
		CharacterCount: res.CharacterCount,
	})
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	teamID, _ := middlewares.TeamID(r.Context())

	documents, err := h.db.ListDocumentsByTeam(r.Context(), teamID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list documents", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	teamID, _ := middlewares.TeamID(r.Context())
	docID := chi.URLParam(r, "documentID")

	chunks, err := h.db.GetChunksByDocument(r.Context(), teamID, docID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "get chunks", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	teamID, _ := middlewares.TeamID(r.Context())
	docID := chi.URLParam(r, "documentID")

	doc, err := h.db.GetDocumentByID(r.Context(), teamID, docID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup document", Details: err.Error()})
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not found"})
		return
	}

	if err := h.db.DeleteDocument(r.Context(), teamID, docID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "delete document", Details: err.Error()})
		return
	}
	// Chunk rows cascade with the document; the stored object is cleaned up
	// best-effort.
	if err := h.obj.DeleteFile(r.Context(), h.cfg.BucketName, doc.StoragePath); err != nil {
		h.log.Warn("stored object not deleted", zap.String("key", doc.StoragePath), zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

// SearchChunks embeds the query string and returns the nearest active chunks
// of one document.
func (h *DocumentHandler) SearchChunks(w http.ResponseWriter, r *http.Request) {
	teamID, _ := middlewares.TeamID(r.Context())
	docID := chi.URLParam(r, "documentID")

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing query parameter q"})
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be 1-50"})
			return
		}
		limit = n
	}

	vecs, err := h.embedder.EmbedTexts(r.Context(), []string{query})
	if err != nil || len(vecs) != 1 {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "embed query failed"})
		return
	}

	chunks, err := h.db.SearchChunks(r.Context(), teamID, docID, vecs[0], limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search chunks", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

// writeIngestError maps the pipeline taxonomy onto HTTP statuses.
func (h *DocumentHandler) writeIngestError(w http.ResponseWriter, err error) {
	var (
		extractErr *ingest.ExtractionError
		embedErr   *ingest.EmbeddingProviderError
		storeErr   *ingest.StorageWriteError
	)
	switch {
	case errors.Is(err, ingest.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request", Details: err.Error()})
	case errors.Is(err, ingest.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, ingest.ErrEmptyContent):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "document contains no extractable text"})
	case errors.Is(err, ingest.ErrStorageUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "object storage unavailable", Details: err.Error()})
	case errors.As(err, &extractErr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "text extraction failed", Details: extractErr.Error()})
	case errors.As(err, &embedErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "embedding provider failed", Details: embedErr.Error()})
	case errors.As(err, &storeErr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage write failed", Details: storeErr.Error()})
	default:
		h.log.Error("unclassified ingestion error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Details: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
