package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/astra-intelligence/astra-ingest/internal/core"
)

// Embedding client defaults.
const (
	DefaultBatchSize    = 100
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
)

// EmbedClient batches texts for an EmbeddingProvider and retries rate-limited
// batches with exponential backoff. Each batch succeeds or fails as a unit;
// non-rate-limit provider errors are treated as non-transient and fail fast.
type EmbedClient struct {
	provider     core.EmbeddingProvider
	batchSize    int
	maxRetries   int
	initialDelay time.Duration
	log          *zap.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEmbedClient(provider core.EmbeddingProvider, batchSize, maxRetries int, initialDelay time.Duration, log *zap.Logger) *EmbedClient {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EmbedClient{
		provider:     provider,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		log:          log,
		sleep:        sleepCtx,
	}
}

// EmbedAll returns one vector per input text, in input order. Batches are
// dispatched concurrently but reassembled by batch position, since ordering
// is the only mechanism tying a vector back to its segment.
func (c *EmbedClient) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	numBatches := (len(texts) + c.batchSize - 1) / c.batchSize
	results := make([][][]float32, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < numBatches; b++ {
		lo := b * c.batchSize
		hi := lo + c.batchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			results[b] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatch issues one provider call for a single batch, retrying only on
// rate limiting: up to maxRetries retries with delays doubling from
// initialDelay (1s, 2s, 4s with defaults).
func (c *EmbedClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	delay := c.initialDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		vecs, err := c.provider.EmbedTexts(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, &EmbeddingProviderError{
					Attempts: attempt,
					Err:      fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts)),
				}
			}
			return vecs, nil
		}

		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			// Bad input, auth failure, etc. Assumed non-transient.
			return nil, &EmbeddingProviderError{Attempts: attempt, Err: err}
		}
		if attempt == c.maxRetries+1 {
			break
		}

		c.log.Warn("embedding provider rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Int("batch_size", len(texts)))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}

	return nil, &EmbeddingProviderError{Attempts: c.maxRetries + 1, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
