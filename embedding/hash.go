package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider is a deterministic, dependency-free embedder: each token
// hashes to a slot and a sign, and the sum is L2-normalized. It carries no
// semantics but is stable across runs, which makes it useful for tests and
// for exercising the ingestion path without a model.
type HashProvider struct {
	Dims int
}

func (h HashProvider) Dimensions() int { return h.Dims }

func (h HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.Dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New64a()
		f.Write([]byte(token))
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty or fully cancelling input still needs a usable direction.
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
