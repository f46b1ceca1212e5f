package framestore

import (
	"fmt"
	"sort"
	"time"

	"github.com/waxlabs/waxgo/frame"
)

// OpKind tags a buffered frame mutation.
type OpKind uint8

const (
	// OpPut appends a new frame record.
	OpPut OpKind = iota
	// OpDelete marks a frame deleted.
	OpDelete
	// OpSupersede marks a frame superseded by another.
	OpSupersede
)

// Op is one buffered mutation, in issuance order.
type Op struct {
	Kind  OpKind
	Frame *frame.Frame // OpPut
	ID    uint64       // OpDelete, OpSupersede
	By    uint64       // OpSupersede
}

// Staging buffers frame mutations against a base snapshot and provides
// read-your-writes lookups over base plus buffer.
type Staging struct {
	base      *Snapshot
	dimension int // 0 = unconstrained
	nowMs     func() int64

	ops          []Op
	staged       map[uint64]*frame.Frame
	stagedDel    map[uint64]struct{}
	stagedSupBy  map[uint64]uint64
	nextStagedID uint64
}

// NewStaging creates a buffer over base. dimension constrains embedding
// lengths; zero disables the check. nowMs supplies store-assigned timestamps
// and may be nil for wall-clock time.
func NewStaging(base *Snapshot, dimension int, nowMs func() int64) *Staging {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Staging{
		base:         base,
		dimension:    dimension,
		nowMs:        nowMs,
		staged:       make(map[uint64]*frame.Frame),
		stagedDel:    make(map[uint64]struct{}),
		stagedSupBy:  make(map[uint64]uint64),
		nextStagedID: base.nextID,
	}
}

// Pending returns the number of buffered mutations.
func (st *Staging) Pending() int { return len(st.ops) }

// Ops returns the buffered mutations in issuance order. The slice is shared;
// callers must not mutate it.
func (st *Staging) Ops() []Op { return st.ops }

func (st *Staging) exists(id uint64) bool {
	if _, ok := st.staged[id]; ok {
		return true
	}
	return st.base.Contains(id)
}

// Put buffers a new frame and returns its assigned id. It never fails on
// valid input; a mismatched embedding length is an encoding error.
func (st *Staging) Put(content []byte, opts frame.PutOptions) (uint64, error) {
	if opts.Embedding != nil && st.dimension > 0 && len(opts.Embedding) != st.dimension {
		return 0, &ErrDimensionMismatch{Expected: st.dimension, Actual: len(opts.Embedding)}
	}

	encoded, err := encodeContent(opts.Compression, content)
	if err != nil {
		return 0, err
	}

	ts := opts.TimestampMs
	if !opts.HasTimestamp && ts == 0 {
		ts = st.nowMs()
	}

	f := &frame.Frame{
		ID:          st.nextStagedID,
		Role:        opts.Role,
		Kind:        opts.Kind,
		Metadata:    opts.Metadata.Clone(),
		Content:     encoded,
		Embedding:   opts.Embedding,
		Compression: opts.Compression,
		TimestampMs: ts,
	}
	st.nextStagedID++
	st.staged[f.ID] = f
	st.ops = append(st.ops, Op{Kind: OpPut, Frame: f})
	return f.ID, nil
}

// Delete buffers a deletion. Idempotent on an already-deleted id (committed
// or staged); fails with ErrNotFound if the id never existed.
func (st *Staging) Delete(id uint64) error {
	if !st.exists(id) {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if _, ok := st.stagedDel[id]; ok {
		return nil
	}
	if s, ok := st.base.Status(id); ok && s == frame.StatusDeleted {
		return nil
	}
	st.stagedDel[id] = struct{}{}
	st.ops = append(st.ops, Op{Kind: OpDelete, ID: id})
	return nil
}

// Supersede buffers a supersession marker. Both ids must reference existing
// frames; the superseded frame's content is untouched.
func (st *Staging) Supersede(supersededID, supersedingID uint64) error {
	if !st.exists(supersededID) {
		return fmt.Errorf("%w: superseded id %d", ErrNotFound, supersededID)
	}
	if !st.exists(supersedingID) {
		return fmt.Errorf("%w: superseding id %d", ErrNotFound, supersedingID)
	}
	st.stagedSupBy[supersededID] = supersedingID
	st.ops = append(st.ops, Op{Kind: OpSupersede, ID: supersededID, By: supersedingID})
	return nil
}

func (st *Staging) statusOf(id uint64) (frame.Status, uint64) {
	if _, ok := st.stagedDel[id]; ok {
		return frame.StatusDeleted, 0
	}
	if by, ok := st.stagedSupBy[id]; ok {
		if s, ok := st.base.Status(id); !ok || s != frame.StatusDeleted {
			return frame.StatusSuperseded, by
		}
	}
	if s, ok := st.base.Status(id); ok {
		if s == frame.StatusSuperseded {
			return s, st.base.supersededBy[id]
		}
		return s, 0
	}
	return frame.StatusLive, 0
}

func (st *Staging) metaOf(f *frame.Frame) frame.Meta {
	m := frame.Meta{
		ID:            f.ID,
		Role:          f.Role,
		Kind:          f.Kind,
		Metadata:      f.Metadata,
		Compression:   f.Compression,
		TimestampMs:   f.TimestampMs,
		ContentLength: uint64(len(f.Content)),
		HasEmbedding:  f.Embedding != nil,
	}
	m.Status, m.SupersededBy = st.statusOf(f.ID)
	return m
}

// Meta returns the metadata view of a frame, observing buffered mutations.
func (st *Staging) Meta(id uint64) (frame.Meta, error) {
	if f, ok := st.staged[id]; ok {
		return st.metaOf(f), nil
	}
	if f, ok := st.base.frames[id]; ok {
		return st.metaOf(f), nil
	}
	return frame.Meta{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Metas returns all frames' metadata, base and staged, ascending by id.
func (st *Staging) Metas() []frame.Meta {
	out := make([]frame.Meta, 0, len(st.base.frames)+len(st.staged))
	for _, f := range st.base.frames {
		out = append(out, st.metaOf(f))
	}
	for _, f := range st.staged {
		out = append(out, st.metaOf(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MetasByID resolves a set of ids in a single pass, observing buffered
// mutations. Unknown ids are absent from the result.
func (st *Staging) MetasByID(ids []uint64) map[uint64]frame.Meta {
	out := make(map[uint64]frame.Meta, len(ids))
	for _, id := range ids {
		if f, ok := st.staged[id]; ok {
			out[id] = st.metaOf(f)
			continue
		}
		if f, ok := st.base.frames[id]; ok {
			out[id] = st.metaOf(f)
		}
	}
	return out
}

// Content returns the decoded content of a frame, staged frames included.
func (st *Staging) Content(id uint64) ([]byte, error) {
	if f, ok := st.staged[id]; ok {
		return decodeContent(f.Compression, f.Content)
	}
	return st.base.Content(id)
}

// Contents resolves a set of ids to decoded content in a single pass.
func (st *Staging) Contents(ids []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		var (
			f  *frame.Frame
			ok bool
		)
		if f, ok = st.staged[id]; !ok {
			if f, ok = st.base.frames[id]; !ok {
				continue
			}
		}
		raw, err := decodeContent(f.Compression, f.Content)
		if err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return out, nil
}

// Embedding returns a frame's embedding, staged frames included.
func (st *Staging) Embedding(id uint64) ([]float32, bool) {
	if f, ok := st.staged[id]; ok {
		if f.Embedding == nil {
			return nil, false
		}
		return f.Embedding, true
	}
	return st.base.Embedding(id)
}
