// Package vindex provides the vector similarity path over frame embeddings.
//
// The index is flat: every query is an exact scan over the committed vectors.
// That keeps results deterministic and the persistence story trivial, which
// is the right trade for an on-device store whose corpus is one user's
// memory, not a billion-vector corpus. Committed state is an immutable
// Snapshot; sessions buffer Add and Remove ops in a Staging.
package vindex

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

// ErrInvalidLimit is returned by Search when k is not positive.
var ErrInvalidLimit = errors.New("vindex: limit must be positive")

// ErrZeroVector is returned when cosine search meets a zero-norm vector.
var ErrZeroVector = errors.New("vindex: zero vector cannot be normalized")

// ErrDimensionMismatch indicates a vector whose length disagrees with the
// index dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Metric selects how query and stored vectors are compared.
type Metric uint8

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// normalizeL2 returns a unit-norm copy of v, or false for a zero vector.
func normalizeL2(v []float32) ([]float32, bool) {
	var norm2 float32
	for _, x := range v {
		norm2 += x * x
	}
	if norm2 == 0 {
		return nil, false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	out := slices.Clone(v)
	for i := range out {
		out[i] *= inv
	}
	return out, true
}

// Candidate is one ranked search result. For MetricL2 the score is the
// squared distance (smaller is better); for cosine and dot it is the
// similarity (larger is better). Results come back best first either way.
type Candidate struct {
	FrameID uint64
	Score   float32
}

// Snapshot is an immutable committed view of the vector index. Cosine
// vectors are stored L2-normalized, so a cosine query is a dot product.
type Snapshot struct {
	metric    Metric
	dimension int
	vectors   map[uint64][]float32
}

// NewSnapshot creates an empty snapshot for the given metric and
// dimensionality.
func NewSnapshot(metric Metric, dimension int) *Snapshot {
	return &Snapshot{
		metric:    metric,
		dimension: dimension,
		vectors:   make(map[uint64][]float32),
	}
}

// Metric returns the configured metric.
func (s *Snapshot) Metric() Metric { return s.metric }

// Dimension returns the configured vector dimensionality.
func (s *Snapshot) Dimension() int { return s.dimension }

// Len returns the number of indexed vectors.
func (s *Snapshot) Len() int { return len(s.vectors) }

// Contains reports whether id has an indexed vector.
func (s *Snapshot) Contains(id uint64) bool {
	_, ok := s.vectors[id]
	return ok
}

// Search scans all vectors and returns the k best candidates. Ties break on
// ascending frame id.
func (s *Snapshot) Search(query []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, ErrInvalidLimit
	}
	if len(query) != s.dimension {
		return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(query)}
	}

	q := query
	if s.metric == MetricCosine {
		normalized, ok := normalizeL2(query)
		if !ok {
			return nil, ErrZeroVector
		}
		q = normalized
	}

	out := make([]Candidate, 0, len(s.vectors))
	for id, v := range s.vectors {
		var score float32
		if s.metric == MetricL2 {
			score = squaredL2(q, v)
		} else {
			score = dot(q, v)
		}
		out = append(out, Candidate{FrameID: id, Score: score})
	}

	better := func(a, b Candidate) bool {
		if a.Score != b.Score {
			if s.metric == MetricL2 {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		return a.FrameID < b.FrameID
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// clone copies the snapshot; vector slices are shared because they are never
// mutated after insertion.
func (s *Snapshot) clone() *Snapshot {
	next := NewSnapshot(s.metric, s.dimension)
	for id, v := range s.vectors {
		next.vectors[id] = v
	}
	return next
}

// applyAdd stores the vector, normalizing for cosine. The caller has already
// validated dimension and norm through Staging.
func (s *Snapshot) applyAdd(id uint64, vector []float32) error {
	if len(vector) != s.dimension {
		return &ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}
	v := slices.Clone(vector)
	if s.metric == MetricCosine {
		normalized, ok := normalizeL2(v)
		if !ok {
			return ErrZeroVector
		}
		v = normalized
	}
	s.vectors[id] = v
	return nil
}

func (s *Snapshot) applyRemove(id uint64) {
	delete(s.vectors, id)
}

// Apply replays buffered ops onto base and returns the resulting snapshot.
// The base is never mutated.
func Apply(base *Snapshot, ops []Op) (*Snapshot, error) {
	if len(ops) == 0 {
		return base, nil
	}
	next := base.clone()
	for _, op := range ops {
		switch op.Kind {
		case OpAdd:
			if err := next.applyAdd(op.ID, op.Vector); err != nil {
				return nil, err
			}
		case OpRemove:
			next.applyRemove(op.ID)
		default:
			return nil, fmt.Errorf("vindex: unknown op kind %d", op.Kind)
		}
	}
	return next, nil
}
