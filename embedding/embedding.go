// Package embedding defines the provider boundary for turning text into
// vectors, plus composable wrappers: a bounded memoization cache and a
// rate-limited front for remote providers.
package embedding

import (
	"context"
	"fmt"
)

// Provider embeds one text at a time. Implementations must return vectors
// of exactly Dimensions() values.
type Provider interface {
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider embeds many texts in one call. The result must hold one
// vector per input, in input order.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CountMismatchError reports a batch that returned the wrong number of
// vectors.
type CountMismatchError struct {
	Got      int
	Expected int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("embedding batch returned %d vectors, expected %d", e.Got, e.Expected)
}

// Batch embeds texts with p, using the batch path when p implements
// BatchProvider and falling back to one call per text otherwise. The result
// count is validated either way.
func Batch(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	if bp, ok := p.(BatchProvider); ok {
		vecs, err := bp.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, &CountMismatchError{Got: len(vecs), Expected: len(texts)}
		}
		return vecs, nil
	}

	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}
