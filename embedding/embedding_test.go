package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// countingProvider embeds deterministically and counts inner calls.
type countingProvider struct {
	dims  int
	calls atomic.Int64
	fail  error
}

func (p *countingProvider) Dimensions() int { return p.dims }

func (p *countingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	vec := make([]float32, p.dims)
	vec[0] = float32(len(text))
	return vec, nil
}

// shortBatchProvider returns the wrong number of vectors.
type shortBatchProvider struct{ countingProvider }

func (p *shortBatchProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}

func TestBatchFallsBackToSingleEmbed(t *testing.T) {
	p := &countingProvider{dims: 2}
	vecs, err := Batch(context.Background(), p, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, int64(3), p.calls.Load())
}

func TestBatchCountMismatch(t *testing.T) {
	p := &shortBatchProvider{countingProvider{dims: 2}}
	_, err := Batch(context.Background(), p, []string{"a", "b", "c"})
	var mismatch *CountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Got)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Contains(t, err.Error(), "returned 2 vectors, expected 3")
}

func TestMemoized(t *testing.T) {
	p := &countingProvider{dims: 2}
	m := Memoize(p, 2)
	ctx := context.Background()

	first, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	again, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int64(1), p.calls.Load(), "second lookup is a cache hit")
	assert.Equal(t, 1, m.CacheSize())

	// Returned vectors are isolated from the cache.
	again[0] = -1
	third, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, third)

	// Capacity 2: a third distinct text evicts the oldest.
	_, err = m.Embed(ctx, "b")
	require.NoError(t, err)
	_, err = m.Embed(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, m.CacheSize())
	_, err = m.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.calls.Load(), "evicted entry re-embeds")
}

func TestMemoizedDisabled(t *testing.T) {
	p := &countingProvider{dims: 2}
	m := Memoize(p, 0)
	ctx := context.Background()

	_, err := m.Embed(ctx, "x")
	require.NoError(t, err)
	_, err = m.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.calls.Load())
	assert.Equal(t, 0, m.CacheSize())
}

func TestMemoizedBatch(t *testing.T) {
	p := &countingProvider{dims: 2}
	m := Memoize(p, 10)
	ctx := context.Background()

	_, err := m.Embed(ctx, "cached")
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(ctx, []string{"cached", "new one", "cached"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, int64(2), p.calls.Load(), "only the miss reaches the provider")
}

func TestMemoizedPropagatesErrors(t *testing.T) {
	sentinel := errors.New("backend down")
	m := Memoize(&countingProvider{dims: 2, fail: sentinel}, 4)
	_, err := m.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, m.CacheSize())
}

func TestRateLimited(t *testing.T) {
	p := &countingProvider{dims: 2}
	r := RateLimit(p, rate.NewLimiter(rate.Inf, 1))

	vec, err := r.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 2, r.Dimensions())

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestRateLimitedHonorsContext(t *testing.T) {
	p := &countingProvider{dims: 2}
	// One token per minute, none available now.
	limiter := rate.NewLimiter(rate.Every(time.Minute), 1)
	require.NoError(t, limiter.WaitN(context.Background(), 1))
	r := RateLimit(p, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Embed(ctx, "x")
	assert.Error(t, err)
	assert.Equal(t, int64(0), p.calls.Load())
}

func TestHashProvider(t *testing.T) {
	h := HashProvider{Dims: 16}
	ctx := context.Background()

	a, err := h.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b, "deterministic")

	other, err := h.Embed(ctx, "an entirely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5, "unit length")

	empty, err := h.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), empty[0])
	assert.False(t, math.IsNaN(float64(empty[0])))
}
