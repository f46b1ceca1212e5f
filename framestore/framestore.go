// Package framestore implements the durable frame table: a monotonic-id
// record store with a tombstone-based lifecycle.
//
// Committed state is an immutable Snapshot. Mutations are buffered in a
// Staging and turned into a new Snapshot by Apply; frame records are never
// physically removed, so supersession chains stay auditable.
package framestore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/waxlabs/waxgo/frame"
)

// ErrNotFound is returned when a frame id was never committed.
var ErrNotFound = errors.New("frame not found")

// ErrDimensionMismatch indicates an embedding whose length disagrees with the
// store's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Snapshot is an immutable view of committed frames. It is safe for
// concurrent readers; all mutation goes through Staging + Apply.
type Snapshot struct {
	frames       map[uint64]*frame.Frame
	deleted      *roaring64.Bitmap
	superseded   *roaring64.Bitmap
	supersededBy map[uint64]uint64
	nextID       uint64
}

// NewSnapshot creates an empty snapshot with ids starting at 1.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		frames:       make(map[uint64]*frame.Frame),
		deleted:      roaring64.New(),
		superseded:   roaring64.New(),
		supersededBy: make(map[uint64]uint64),
		nextID:       1,
	}
}

// NextID returns the id the next committed Put would receive.
func (s *Snapshot) NextID() uint64 { return s.nextID }

// Len returns the number of frame records, tombstoned ones included.
func (s *Snapshot) Len() int { return len(s.frames) }

// Contains reports whether id was ever committed.
func (s *Snapshot) Contains(id uint64) bool {
	_, ok := s.frames[id]
	return ok
}

// Status returns the lifecycle state of id. Deletion wins over supersession
// when both tombstones exist.
func (s *Snapshot) Status(id uint64) (frame.Status, bool) {
	if _, ok := s.frames[id]; !ok {
		return 0, false
	}
	switch {
	case s.deleted.Contains(id):
		return frame.StatusDeleted, true
	case s.superseded.Contains(id):
		return frame.StatusSuperseded, true
	default:
		return frame.StatusLive, true
	}
}

// Live reports whether id exists and is neither deleted nor superseded.
// This is the liveness check the surrogate index performs on every read.
func (s *Snapshot) Live(id uint64) bool {
	st, ok := s.Status(id)
	return ok && st == frame.StatusLive
}

func (s *Snapshot) metaOf(f *frame.Frame) frame.Meta {
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
	m.Status, _ = s.Status(f.ID)
	if m.Status == frame.StatusSuperseded {
		m.SupersededBy = s.supersededBy[f.ID]
	}
	return m
}

// Meta returns the metadata view of a single frame.
func (s *Snapshot) Meta(id uint64) (frame.Meta, error) {
	f, ok := s.frames[id]
	if !ok {
		return frame.Meta{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return s.metaOf(f), nil
}

// Metas returns every frame's metadata ordered by ascending id.
func (s *Snapshot) Metas() []frame.Meta {
	out := make([]frame.Meta, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, s.metaOf(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MetasByID resolves a set of ids in a single pass over the table. Ids that
// were never committed are simply absent from the result, not an error.
func (s *Snapshot) MetasByID(ids []uint64) map[uint64]frame.Meta {
	out := make(map[uint64]frame.Meta, len(ids))
	for _, id := range ids {
		if f, ok := s.frames[id]; ok {
			out[id] = s.metaOf(f)
		}
	}
	return out
}

// Content returns the decoded content of a frame.
func (s *Snapshot) Content(id uint64) ([]byte, error) {
	f, ok := s.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return decodeContent(f.Compression, f.Content)
}

// Contents resolves a set of ids to decoded content in a single pass.
// Missing ids are absent from the result.
func (s *Snapshot) Contents(ids []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		f, ok := s.frames[id]
		if !ok {
			continue
		}
		raw, err := decodeContent(f.Compression, f.Content)
		if err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return out, nil
}

// Embedding returns the stored embedding of a frame, if any.
func (s *Snapshot) Embedding(id uint64) ([]float32, bool) {
	f, ok := s.frames[id]
	if !ok || f.Embedding == nil {
		return nil, false
	}
	return f.Embedding, true
}

// EmbeddedIDs returns the ids of frames carrying an embedding, ascending.
// The order is the serialization order of the embedding payload blob.
func (s *Snapshot) EmbeddedIDs() []uint64 {
	out := make([]uint64, 0)
	for id, f := range s.frames {
		if f.Embedding != nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		frames:       make(map[uint64]*frame.Frame, len(s.frames)),
		deleted:      s.deleted.Clone(),
		superseded:   s.superseded.Clone(),
		supersededBy: make(map[uint64]uint64, len(s.supersededBy)),
		nextID:       s.nextID,
	}
	for id, f := range s.frames {
		out.frames[id] = f // frames are immutable once committed
	}
	for id, by := range s.supersededBy {
		out.supersededBy[id] = by
	}
	return out
}

// Apply produces a new snapshot with ops applied, leaving base untouched.
// Ops must have been produced by a Staging over base (or replayed from the
// journal in the same order).
func Apply(base *Snapshot, ops []Op) (*Snapshot, error) {
	next := base.clone()
	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			if op.Frame.ID != next.nextID {
				return nil, fmt.Errorf("framestore: non-monotonic frame id %d, expected %d", op.Frame.ID, next.nextID)
			}
			next.frames[op.Frame.ID] = op.Frame
			next.nextID++
		case OpDelete:
			if _, ok := next.frames[op.ID]; !ok {
				return nil, fmt.Errorf("framestore: delete of unknown frame %d", op.ID)
			}
			next.deleted.Add(op.ID)
		case OpSupersede:
			if _, ok := next.frames[op.ID]; !ok {
				return nil, fmt.Errorf("framestore: supersede of unknown frame %d", op.ID)
			}
			if _, ok := next.frames[op.By]; !ok {
				return nil, fmt.Errorf("framestore: supersede by unknown frame %d", op.By)
			}
			next.superseded.Add(op.ID)
			next.supersededBy[op.ID] = op.By
		default:
			return nil, fmt.Errorf("framestore: unknown op kind %d", op.Kind)
		}
	}
	return next, nil
}
