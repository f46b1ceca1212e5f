// Package surrogate maintains the derived source→surrogate frame mapping.
//
// A surrogate frame links to its source through metadata; the index holds
// only lookup structures, while the frame store owns the frames themselves.
// Liveness of the source is checked at read time on every lookup, so the
// index is always consistent with the frame store's current lifecycle state
// without observing delete/supersede transitions directly.
package surrogate

import (
	"strconv"

	"github.com/waxlabs/waxgo/frame"
)

// Kind is the frame kind that marks a surrogate frame.
const Kind = "surrogate"

// Metadata keys forming the surrogate edge.
const (
	MetaSourceFrameID     = "source_frame_id"
	MetaSurrogateAlgo     = "surrogate_algo"
	MetaSurrogateVersion  = "surrogate_version"
	MetaSourceContentHash = "source_content_hash"
)

// Liveness reports whether a frame id exists and is neither deleted nor
// superseded. *framestore.Snapshot satisfies this.
type Liveness interface {
	Live(id uint64) bool
}

// Index is the immutable surrogate edge table. Edges are never deleted, even
// when their source frame dies; resolution goes through the liveness check
// instead.
type Index struct {
	edges map[uint64]uint64 // source frame id -> surrogate frame id
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{edges: make(map[uint64]uint64)}
}

// Len returns the number of edges.
func (ix *Index) Len() int { return len(ix.edges) }

// WithFrame returns an index extended with the edge carried by f, if f is a
// surrogate frame with a well-formed source reference; otherwise it returns
// the receiver unchanged. The receiver is never mutated.
func (ix *Index) WithFrame(f *frame.Frame) *Index {
	if f.Kind != Kind {
		return ix
	}
	raw, ok := f.Metadata.Get(MetaSourceFrameID)
	if !ok {
		return ix
	}
	source, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return ix
	}

	next := &Index{edges: make(map[uint64]uint64, len(ix.edges)+1)}
	for k, v := range ix.edges {
		next.edges[k] = v
	}
	next.edges[source] = f.ID
	return next
}

// FrameID resolves the surrogate for sourceFrameID. It returns the surrogate
// frame id only while the source is live; a deleted or superseded source
// resolves to nothing on the very next lookup, with the edge left intact.
func (ix *Index) FrameID(sourceFrameID uint64, liveness Liveness) (uint64, bool) {
	id, ok := ix.edges[sourceFrameID]
	if !ok {
		return 0, false
	}
	if !liveness.Live(sourceFrameID) {
		return 0, false
	}
	return id, true
}

// Edge returns the raw edge for sourceFrameID regardless of source liveness.
// Intended for audit tooling and tests.
func (ix *Index) Edge(sourceFrameID uint64) (uint64, bool) {
	id, ok := ix.edges[sourceFrameID]
	return id, ok
}
