package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/models"
)

type fakeDB struct {
	mu         sync.Mutex
	docs       map[string]*models.Document
	chunks     map[string]models.Chunk // keyed team|doc|index
	superseded []string
	createErr  error
	upsertErr  error
}

func newFakeDB() *fakeDB {
	return &fakeDB{docs: make(map[string]*models.Document), chunks: make(map[string]models.Chunk)}
}

func chunkKey(teamID, docID string, idx int) string {
	return fmt.Sprintf("%s|%s|%d", teamID, docID, idx)
}

// CreateDocument models the real insert's ON CONFLICT (id) DO UPDATE: a
// second write with the same id replaces the row, it never violates the
// primary key.
func (f *fakeDB) CreateDocument(_ context.Context, doc *models.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDB) GetDocumentByID(_ context.Context, teamID, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.TeamID != teamID {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByTeam(_ context.Context, teamID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.TeamID == teamID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateDocumentStatus(_ context.Context, id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	d.Status = status
	return nil
}

func (f *fakeDB) DeleteDocument(_ context.Context, teamID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	for k := range f.chunks {
		if strings.Contains(k, id) {
			delete(f.chunks, k)
		}
	}
	return nil
}

// UpsertChunks mirrors the real store: conflicting rows are replaced and
// rows above the batch's highest index per document are deleted.
func (f *fakeDB) UpsertChunks(_ context.Context, chunks []models.Chunk) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	maxIndex := make(map[string]int)
	for _, ch := range chunks {
		f.chunks[chunkKey(ch.TeamID, ch.DocumentID, ch.ChunkIndex)] = ch
		dk := ch.TeamID + "|" + ch.DocumentID
		if cur, ok := maxIndex[dk]; !ok || ch.ChunkIndex > cur {
			maxIndex[dk] = ch.ChunkIndex
		}
	}
	for k, ch := range f.chunks {
		if idx, ok := maxIndex[ch.TeamID+"|"+ch.DocumentID]; ok && ch.ChunkIndex > idx {
			delete(f.chunks, k)
		}
	}
	return len(chunks), nil
}

func (f *fakeDB) GetChunksByDocument(_ context.Context, teamID, documentID string) ([]models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chunk
	for _, ch := range f.chunks {
		if ch.TeamID == teamID && ch.DocumentID == documentID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeDB) MarkChunksSuperseded(_ context.Context, teamID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded = append(f.superseded, documentID)
	for k, ch := range f.chunks {
		if ch.TeamID == teamID && ch.DocumentID == documentID {
			ch.SyncStatus = models.SyncSuperseded
			f.chunks[k] = ch
		}
	}
	return nil
}

func (f *fakeDB) SearchChunks(_ context.Context, teamID, documentID string, _ []float32, limit int) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) status(docID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[docID]; ok {
		return d.Status
	}
	return ""
}

func (f *fakeDB) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

type fakeObj struct {
	mu       sync.Mutex
	files    map[string][]byte
	getErr   error
	getCalls int
}

func (f *fakeObj) UploadFile(_ context.Context, _, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[key] = data
	return "https://example.test/" + key, nil
}

func (f *fakeObj) DeleteFile(_ context.Context, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	return nil
}

func (f *fakeObj) GetFile(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return data, nil
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Supports(mimeType string) bool { return mimeType == "text/plain" }

func (f *fakeExtractor) ExtractText(_ context.Context, raw []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(raw), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeNotifier) DocumentIngested(_ context.Context, _, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type pipelineFixture struct {
	db       *fakeDB
	obj      *fakeObj
	provider *fakeProvider
	notifier *fakeNotifier
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		db:       newFakeDB(),
		obj:      &fakeObj{},
		provider: &fakeProvider{},
		notifier: &fakeNotifier{},
	}
	embedClient := NewEmbedClient(f.provider, 100, 3, time.Nanosecond, zap.NewNop())
	embedClient.sleep = func(context.Context, time.Duration) error { return nil }
	f.pipeline = NewPipeline(f.db, f.obj, &fakeExtractor{}, embedClient, f.notifier, PipelineConfig{
		Bucket:         "test-bucket",
		ChunkSize:      100,
		ChunkOverlap:   20,
		MaxUploadBytes: 1 << 20,
	}, zap.NewNop())
	return f
}

func validRequest() Request {
	return Request{
		UploadID:    "up-1",
		StoragePath: "team-1/up-1/report.txt",
		Filename:    "report.txt",
		MimeType:    "text/plain",
		TeamID:      "team-1",
		UserID:      "user-1",
	}
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	text := strings.TrimSpace(strings.Repeat("All work and no play makes a dull document. ", 20))
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte(text)}

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, res.DocumentID)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Equal(t, len(text), res.CharacterCount)
	assert.True(t, res.Notified)

	chunks, _ := f.db.GetChunksByDocument(context.Background(), "team-1", res.DocumentID)
	require.Len(t, chunks, res.ChunkCount)

	seen := make(map[int]bool)
	for _, ch := range chunks {
		assert.Equal(t, models.SyncActive, ch.SyncStatus)
		assert.Equal(t, "other", ch.DocCategory)
		assert.Len(t, ch.Embedding, 1, "every chunk carries its vector")
		assert.False(t, seen[ch.ChunkIndex], "indices must not repeat")
		seen[ch.ChunkIndex] = true
	}
	for i := 0; i < res.ChunkCount; i++ {
		assert.True(t, seen[i], "indices must be dense, missing %d", i)
	}

	assert.Equal(t, models.StatusReady, f.db.status(res.DocumentID))
	assert.Equal(t, 1, f.notifier.calls)
}

func TestPipelineValidationBeforeAnyIO(t *testing.T) {
	f := newPipelineFixture(t)

	req := validRequest()
	req.TeamID = ""
	_, err := f.pipeline.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadRequest)

	req = validRequest()
	req.MimeType = "application/zip"
	_, err = f.pipeline.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadRequest)

	assert.Zero(t, f.obj.getCalls, "validation failures must not touch storage")
	assert.Zero(t, f.provider.callCount())
}

func TestPipelineStorageUnavailable(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.getErr = errors.New("connection refused")

	_, err := f.pipeline.Run(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Zero(t, f.db.chunkCount())
}

func TestPipelineOversizedFile(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": make([]byte, 2<<20)}

	_, err := f.pipeline.Run(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Zero(t, f.provider.callCount())
}

func TestPipelineEmptyContent(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte("   \n\t  ")}

	req := validRequest()
	req.DocumentID = "doc-empty"
	_, err := f.pipeline.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmptyContent)

	assert.Zero(t, f.db.chunkCount(), "no chunks may be written")
	assert.Zero(t, f.provider.callCount(), "no embedding calls may be made")
	assert.Equal(t, models.StatusFailed, f.db.status("doc-empty"))
}

func TestPipelineEmbeddingFailurePersistsNothing(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte(strings.Repeat("text ", 100))}
	f.provider.rateLimits = 1 << 30

	req := validRequest()
	req.DocumentID = "doc-embed-fail"
	_, err := f.pipeline.Run(context.Background(), req)

	var provErr *EmbeddingProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Zero(t, f.db.chunkCount(), "chunks must never be persisted without embeddings")
	assert.Equal(t, models.StatusFailed, f.db.status("doc-embed-fail"))
	assert.Zero(t, f.notifier.calls)
}

func TestPipelineStorageWriteFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte("some perfectly fine content")}
	f.db.upsertErr = errors.New("disk full")

	req := validRequest()
	req.DocumentID = "doc-write-fail"
	_, err := f.pipeline.Run(context.Background(), req)

	var storeErr *StorageWriteError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, models.StatusFailed, f.db.status("doc-write-fail"))
}

func TestPipelineNotifyFailureIsSwallowed(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte("notifiable content")}
	f.notifier.err = errors.New("webhook down")

	res, err := f.pipeline.Run(context.Background(), validRequest())
	require.NoError(t, err, "classifier failures must not fail ingestion")
	assert.False(t, res.Notified)
	assert.Equal(t, models.StatusReady, f.db.status(res.DocumentID))
}

func TestPipelineIdempotentRerun(t *testing.T) {
	f := newPipelineFixture(t)
	text := strings.TrimSpace(strings.Repeat("Same input, same output, every time. ", 30))
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte(text)}

	req := validRequest()
	req.DocumentID = "doc-stable"

	first, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	firstChunks, _ := f.db.GetChunksByDocument(context.Background(), "team-1", "doc-stable")

	second, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	secondChunks, _ := f.db.GetChunksByDocument(context.Background(), "team-1", "doc-stable")

	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, models.StatusReady, f.db.status("doc-stable"))
	require.Len(t, secondChunks, len(firstChunks), "upsert must not duplicate rows")

	byIndex := func(chunks []models.Chunk) map[int]string {
		m := make(map[int]string, len(chunks))
		for _, ch := range chunks {
			m[ch.ChunkIndex] = ch.Content
		}
		return m
	}
	assert.Equal(t, byIndex(firstChunks), byIndex(secondChunks))
}

func TestPipelineRerunAfterFailureRepairsState(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte("content worth keeping around")}
	f.db.upsertErr = errors.New("disk full")

	req := validRequest()
	req.DocumentID = "doc-retry"

	_, err := f.pipeline.Run(context.Background(), req)
	var storeErr *StorageWriteError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, models.StatusFailed, f.db.status("doc-retry"))

	// The same request must be re-runnable once the store recovers; the
	// document insert replaces the failed row instead of hitting its
	// primary key.
	f.db.upsertErr = nil
	res, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "doc-retry", res.DocumentID)
	assert.Equal(t, models.StatusReady, f.db.status("doc-retry"))
	assert.Greater(t, res.ChunkCount, 0)
}

func TestPipelineRerunWithFewerChunksDropsStaleRows(t *testing.T) {
	f := newPipelineFixture(t)
	longText := strings.TrimSpace(strings.Repeat("Plenty of text in the first revision. ", 30))
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte(longText)}

	req := validRequest()
	req.DocumentID = "doc-shrink"

	first, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	f.obj.files["team-1/up-1/report.txt"] = []byte("much shorter second revision")
	second, err := f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	require.Less(t, second.ChunkCount, first.ChunkCount)

	chunks, _ := f.db.GetChunksByDocument(context.Background(), "team-1", "doc-shrink")
	require.Len(t, chunks, second.ChunkCount, "stale tail rows must not survive re-ingestion")
	for _, ch := range chunks {
		assert.Less(t, ch.ChunkIndex, second.ChunkCount)
	}
}

func TestPipelineSupersedesReplacedDocument(t *testing.T) {
	f := newPipelineFixture(t)
	f.obj.files = map[string][]byte{"team-1/up-1/report.txt": []byte("fresher version of the file")}

	// Seed the chunk set of the document being replaced.
	_, err := f.db.UpsertChunks(context.Background(), []models.Chunk{
		{TeamID: "team-1", DocumentID: "doc-old", ChunkIndex: 0, Content: "stale", SyncStatus: models.SyncActive},
	})
	require.NoError(t, err)

	req := validRequest()
	req.ReplacesDocumentID = "doc-old"
	_, err = f.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, f.db.superseded, "doc-old")
	oldChunks, _ := f.db.GetChunksByDocument(context.Background(), "team-1", "doc-old")
	require.Len(t, oldChunks, 1)
	assert.Equal(t, models.SyncSuperseded, oldChunks[0].SyncStatus)
}
