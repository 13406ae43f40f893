package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the ingestion pipeline. Handlers map these to
// HTTP statuses; nothing below this package should depend on HTTP.
var (
	// ErrBadRequest covers missing/invalid request fields, unsupported
	// mime types and oversized files. Rejected before any I/O.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized covers missing credentials and team mismatches.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageUnavailable means the raw object could not be fetched.
	// Not retried; the caller must re-upload.
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrEmptyContent means extraction produced no usable text.
	ErrEmptyContent = errors.New("document contains no extractable text")

	// ErrRateLimited is the provider-agnostic rate-limit signal. Embedding
	// providers wrap their "too many requests" responses with it so the
	// embedding client knows the call is safe to retry after backoff.
	ErrRateLimited = errors.New("embedding provider rate limited")
)

// ExtractionError reports a corrupted, protected or otherwise unparseable file.
type ExtractionError struct {
	MimeType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.MimeType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingProviderError is returned once embedding has failed for good,
// either immediately on a non-transient provider error or after the retry
// budget is exhausted. Err carries the last provider error.
type EmbeddingProviderError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed chunk/document write. Some rows may
// already be durable; re-running the pipeline repairs state via upsert.
type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write: %v", e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
