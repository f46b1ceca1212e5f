package embedding

import (
	"context"
	"slices"
	"sync"
)

// Memoized caches embeddings by exact text, evicting in insertion order once
// the capacity is reached. Useful when ingestion re-embeds recurring chunks.
type Memoized struct {
	inner    Provider
	capacity int

	mu    sync.Mutex
	cache map[string][]float32
	order []string
}

// Memoize wraps p with a cache of at most capacity entries. A capacity of
// zero or less disables caching and returns p's results directly.
func Memoize(p Provider, capacity int) *Memoized {
	return &Memoized{
		inner:    p,
		capacity: capacity,
		cache:    make(map[string][]float32),
	}
}

func (m *Memoized) Dimensions() int { return m.inner.Dimensions() }

// CacheSize returns the number of cached embeddings.
func (m *Memoized) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

func (m *Memoized) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.capacity <= 0 {
		return m.inner.Embed(ctx, text)
	}

	m.mu.Lock()
	if vec, ok := m.cache[text]; ok {
		m.mu.Unlock()
		return slices.Clone(vec), nil
	}
	m.mu.Unlock()

	vec, err := m.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.cache[text]; !ok {
		for len(m.cache) >= m.capacity && len(m.order) > 0 {
			delete(m.cache, m.order[0])
			m.order = m.order[1:]
		}
		m.cache[text] = slices.Clone(vec)
		m.order = append(m.order, text)
	}
	m.mu.Unlock()
	return vec, nil
}

// EmbedBatch serves cache hits locally and embeds the rest through the
// inner provider, batched when it supports that.
func (m *Memoized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.capacity <= 0 {
		return Batch(ctx, m.inner, texts)
	}

	out := make([][]float32, len(texts))
	var misses []string
	var missAt []int

	m.mu.Lock()
	for i, text := range texts {
		if vec, ok := m.cache[text]; ok {
			out[i] = slices.Clone(vec)
			continue
		}
		misses = append(misses, text)
		missAt = append(missAt, i)
	}
	m.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}
	vecs, err := Batch(ctx, m.inner, misses)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for i, vec := range vecs {
		out[missAt[i]] = vec
		text := misses[i]
		if _, ok := m.cache[text]; ok {
			continue
		}
		for len(m.cache) >= m.capacity && len(m.order) > 0 {
			delete(m.cache, m.order[0])
			m.order = m.order[1:]
		}
		m.cache[text] = slices.Clone(vec)
		m.order = append(m.order, text)
	}
	m.mu.Unlock()
	return out, nil
}
