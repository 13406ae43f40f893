package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// markerVec gives every text a deterministic one-element vector so order
// preservation can be asserted end to end.
func markerVec(s string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return []float32{float32(h.Sum32())}
}

// fakeProvider rate-limits its first rateLimits calls, then either fails
// with failErr or answers with marker vectors.
type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	rateLimits int
	failErr    error
}

func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.rateLimits {
		return nil, fmt.Errorf("quota exceeded: %w", ErrRateLimited)
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = markerVec(t)
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestClient(p *fakeProvider, batchSize, maxRetries int) (*EmbedClient, *[]time.Duration) {
	c := NewEmbedClient(p, batchSize, maxRetries, time.Second, zap.NewNop())
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	return c, &delays
}

func TestEmbedAllPreservesOrderAcrossBatches(t *testing.T) {
	p := &fakeProvider{}
	c, _ := newTestClient(p, 3, 3)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("marker-%d", i)
	}

	vecs, err := c.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, markerVec(text), vecs[i], "vector %d must correspond to text %d", i, i)
	}
	// 10 texts at batch size 3 -> 4 provider calls.
	assert.Equal(t, 4, p.callCount())
}

func TestEmbedAllEmptyInput(t *testing.T) {
	p := &fakeProvider{}
	c, _ := newTestClient(p, 3, 3)

	vecs, err := c.EmbedAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, p.callCount())
}

func TestEmbedAllRetriesRateLimitThenSucceeds(t *testing.T) {
	// Rate-limited three times, then 200: the whole sequence succeeds with
	// exponential delays 1s, 2s, 4s.
	p := &fakeProvider{rateLimits: 3}
	c, delays := newTestClient(p, 100, 3)

	vecs, err := c.EmbedAll(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	assert.Equal(t, 4, p.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestEmbedAllExhaustsRetryBudget(t *testing.T) {
	p := &fakeProvider{rateLimits: 1 << 30}
	c, delays := newTestClient(p, 100, 3)

	_, err := c.EmbedAll(context.Background(), []string{"alpha"})
	require.Error(t, err)

	var provErr *EmbeddingProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 4, provErr.Attempts)
	assert.ErrorIs(t, provErr.Err, ErrRateLimited)

	// One initial attempt plus maxRetries retries, no more.
	assert.Equal(t, 4, p.callCount())
	assert.Len(t, *delays, 3)
}

func TestEmbedAllFailsFastOnNonRateLimitError(t *testing.T) {
	p := &fakeProvider{failErr: errors.New("invalid api key")}
	c, delays := newTestClient(p, 100, 3)

	_, err := c.EmbedAll(context.Background(), []string{"alpha"})
	require.Error(t, err)

	var provErr *EmbeddingProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 1, provErr.Attempts)

	assert.Equal(t, 1, p.callCount(), "non-transient errors must not be retried")
	assert.Empty(t, *delays)
}

func TestEmbedAllRejectsShortProviderResponse(t *testing.T) {
	p := &shortProvider{}
	c := NewEmbedClient(p, 100, 3, time.Second, zap.NewNop())

	_, err := c.EmbedAll(context.Background(), []string{"a", "b", "c"})
	var provErr *EmbeddingProviderError
	require.ErrorAs(t, err, &provErr)
}

// shortProvider returns fewer vectors than texts.
type shortProvider struct{}

func (s *shortProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}
