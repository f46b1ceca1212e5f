package vindex

import "slices"

// OpKind discriminates buffered vector index mutations.
type OpKind uint8

const (
	OpAdd OpKind = iota + 1
	OpRemove
)

// Op is one buffered mutation, replayable through Apply. Add ops carry the
// raw vector as supplied by the caller; normalization happens on apply.
type Op struct {
	Kind   OpKind
	ID     uint64
	Vector []float32 // OpAdd only
}

// Staging buffers vector index mutations against a base snapshot. Reads see
// base plus buffer.
type Staging struct {
	base *Snapshot
	view *Snapshot
	ops  []Op
}

// NewStaging creates a staging buffer over base.
func NewStaging(base *Snapshot) *Staging {
	return &Staging{base: base, view: base}
}

// Pending returns the number of buffered ops.
func (st *Staging) Pending() int { return len(st.ops) }

// Ops returns the buffered ops in application order.
func (st *Staging) Ops() []Op { return st.ops }

func (st *Staging) mutable() *Snapshot {
	if st.view == st.base {
		st.view = st.base.clone()
	}
	return st.view
}

// Add stages a vector for id, replacing any prior vector staged or committed
// under the same id. Dimension and zero-norm validation happen here so a
// commit never fails on vector input.
func (st *Staging) Add(id uint64, vector []float32) error {
	if err := st.mutable().applyAdd(id, vector); err != nil {
		return err
	}
	st.ops = append(st.ops, Op{Kind: OpAdd, ID: id, Vector: slices.Clone(vector)})
	return nil
}

// Remove stages removal of id's vector. Removing an unindexed id is a no-op
// that still records the op.
func (st *Staging) Remove(id uint64) {
	st.mutable().applyRemove(id)
	st.ops = append(st.ops, Op{Kind: OpRemove, ID: id})
}

// Search queries base plus buffered mutations.
func (st *Staging) Search(query []float32, k int) ([]Candidate, error) {
	return st.view.Search(query, k)
}

// Contains reports whether id has a vector in base plus buffer.
func (st *Staging) Contains(id uint64) bool {
	return st.view.Contains(id)
}
