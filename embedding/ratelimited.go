package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a provider, one token per embedded text.
// Batches wait for as many tokens as they carry texts.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// RateLimit wraps p with the given limiter.
func RateLimit(p Provider, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{inner: p, limiter: limiter}
}

func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// WaitN fails when the burst can never cover the batch; fall back to
	// waiting per text so oversized batches still make progress.
	if err := r.limiter.WaitN(ctx, len(texts)); err != nil {
		for range texts {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return nil, werr
			}
		}
	}
	return Batch(ctx, r.inner, texts)
}
