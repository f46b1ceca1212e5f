package lexical

// OpKind discriminates buffered text index mutations.
type OpKind uint8

const (
	OpIndex OpKind = iota + 1
	OpRemove
)

// Op is one buffered mutation, replayable through Apply.
type Op struct {
	Kind OpKind
	ID   uint64
	Text string // OpIndex only
}

// Staging buffers text index mutations against a base snapshot. Reads see
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

// mutable returns a private snapshot the staging may write through,
// cloning the base on first mutation.
func (st *Staging) mutable() *Snapshot {
	if st.view == st.base {
		st.view = st.base.clone()
	}
	return st.view
}

// Index stages text for id, replacing any prior text staged or committed
// under the same id.
func (st *Staging) Index(id uint64, text string) {
	st.mutable().applyIndex(id, text)
	st.ops = append(st.ops, Op{Kind: OpIndex, ID: id, Text: text})
}

// Remove stages removal of id's text. Removing an unindexed id is a no-op
// that still records the op, so replay stays faithful to the call sequence.
func (st *Staging) Remove(id uint64) {
	st.mutable().applyRemove(id)
	st.ops = append(st.ops, Op{Kind: OpRemove, ID: id})
}

// Search queries base plus buffered mutations.
func (st *Staging) Search(query string, k int) ([]Candidate, error) {
	return st.view.Search(query, k)
}

// Contains reports whether id has text in base plus buffer.
func (st *Staging) Contains(id uint64) bool {
	return st.view.Contains(id)
}
