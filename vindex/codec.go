package vindex

import (
	"fmt"
	"sort"

	"github.com/waxlabs/waxgo/internal/binio"
)

// EncodeOps serializes buffered ops for the commit journal.
func EncodeOps(w *binio.Writer, ops []Op) {
	w.U32(uint32(len(ops)))
	for _, op := range ops {
		w.U8(uint8(op.Kind))
		w.U64(op.ID)
		if op.Kind == OpAdd {
			w.F32Slice(op.Vector)
		}
	}
}

// DecodeOps deserializes ops written by EncodeOps.
func DecodeOps(r *binio.Reader) ([]Op, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, n)
	for range n {
		kind, err := r.U8()
		if err != nil {
			return nil, err
		}
		op := Op{Kind: OpKind(kind)}
		if op.ID, err = r.U64(); err != nil {
			return nil, err
		}
		switch op.Kind {
		case OpAdd:
			if op.Vector, err = r.F32Slice(); err != nil {
				return nil, err
			}
		case OpRemove:
		default:
			return nil, fmt.Errorf("vindex: unknown op kind %d", kind)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeSnapshot serializes the committed index, vectors ascending by id.
// Cosine vectors are written as stored, already normalized.
func (s *Snapshot) EncodeSnapshot(w *binio.Writer) {
	w.U8(uint8(s.metric))
	w.U32(uint32(s.dimension))

	ids := make([]uint64, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w.U32(uint32(len(ids)))
	for _, id := range ids {
		w.U64(id)
		w.F32Slice(s.vectors[id])
	}
}

// DecodeSnapshot deserializes an index written by EncodeSnapshot.
func DecodeSnapshot(r *binio.Reader) (*Snapshot, error) {
	metric, err := r.U8()
	if err != nil {
		return nil, err
	}
	dim, err := r.U32()
	if err != nil {
		return nil, err
	}
	s := NewSnapshot(Metric(metric), int(dim))

	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	for range n {
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		v, err := r.F32Slice()
		if err != nil {
			return nil, err
		}
		if len(v) != s.dimension {
			return nil, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(v)}
		}
		s.vectors[id] = v
	}
	return s, nil
}
