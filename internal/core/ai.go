package core

import "context"

// EmbeddingProvider turns a batch of texts into one fixed-length vector per
// text, in input order. Implementations must surface rate limiting as
// ingest.ErrRateLimited so the embedding client can back off and retry.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
