package framestore

import (
	"fmt"

	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/internal/binio"
)

// Binary encodings for frame ops (journal records) and the frame table
// section of a checkpoint snapshot. Journal ops carry embeddings inline;
// snapshot records do not, because checkpointed embeddings live in a separate
// payload blob in the embedding batch format.

func encodeFrame(w *binio.Writer, f *frame.Frame, withEmbedding bool) {
	w.U64(f.ID)
	w.U8(uint8(f.Role))
	w.String(f.Kind)
	w.U8(uint8(f.Compression))
	w.I64(f.TimestampMs)

	keys := f.Metadata.Keys()
	w.U32(uint32(len(keys)))
	for _, k := range keys {
		v, _ := f.Metadata.Get(k)
		w.String(k)
		w.String(v)
	}

	w.Bytes32(f.Content)

	if withEmbedding && f.Embedding != nil {
		w.U8(1)
		w.F32Slice(f.Embedding)
	} else if f.Embedding != nil {
		w.U8(2) // embedding exists but is stored out of band
	} else {
		w.U8(0)
	}
}

// decodeFrame reads one frame record. hasDetached reports that the frame
// carries an embedding stored outside this record.
func decodeFrame(r *binio.Reader) (f *frame.Frame, hasDetached bool, err error) {
	f = &frame.Frame{}
	if f.ID, err = r.U64(); err != nil {
		return nil, false, err
	}
	role, err := r.U8()
	if err != nil {
		return nil, false, err
	}
	f.Role = frame.Role(role)
	if f.Kind, err = r.String(); err != nil {
		return nil, false, err
	}
	comp, err := r.U8()
	if err != nil {
		return nil, false, err
	}
	f.Compression = frame.Compression(comp)
	if f.TimestampMs, err = r.I64(); err != nil {
		return nil, false, err
	}

	n, err := r.U32()
	if err != nil {
		return nil, false, err
	}
	f.Metadata = frame.NewMetadata()
	for range n {
		k, err := r.String()
		if err != nil {
			return nil, false, err
		}
		v, err := r.String()
		if err != nil {
			return nil, false, err
		}
		f.Metadata.Set(k, v)
	}

	if f.Content, err = r.Bytes32(); err != nil {
		return nil, false, err
	}

	embState, err := r.U8()
	if err != nil {
		return nil, false, err
	}
	switch embState {
	case 0:
	case 1:
		if f.Embedding, err = r.F32Slice(); err != nil {
			return nil, false, err
		}
	case 2:
		hasDetached = true
	default:
		return nil, false, fmt.Errorf("framestore: invalid embedding marker %d", embState)
	}
	return f, hasDetached, nil
}

// EncodeOps serializes buffered ops for the commit journal.
func EncodeOps(w *binio.Writer, ops []Op) {
	w.U32(uint32(len(ops)))
	for _, op := range ops {
		w.U8(uint8(op.Kind))
		switch op.Kind {
		case OpPut:
			encodeFrame(w, op.Frame, true)
		case OpDelete:
			w.U64(op.ID)
		case OpSupersede:
			w.U64(op.ID)
			w.U64(op.By)
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
		switch op.Kind {
		case OpPut:
			if op.Frame, _, err = decodeFrame(r); err != nil {
				return nil, err
			}
		case OpDelete:
			if op.ID, err = r.U64(); err != nil {
				return nil, err
			}
		case OpSupersede:
			if op.ID, err = r.U64(); err != nil {
				return nil, err
			}
			if op.By, err = r.U64(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("framestore: unknown op kind %d", kind)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeSnapshot serializes the committed frame table, tombstones included,
// ascending by id. Embeddings are not inlined; callers persist them through
// the embedding batch codec in EmbeddedIDs order.
func (s *Snapshot) EncodeSnapshot(w *binio.Writer) error {
	w.U64(s.nextID)
	w.U32(uint32(len(s.frames)))
	for _, m := range s.Metas() {
		encodeFrame(w, s.frames[m.ID], false)
	}

	deleted := s.deleted.ToArray()
	w.U64Slice(deleted)

	superseded := s.superseded.ToArray()
	w.U32(uint32(len(superseded)))
	for _, id := range superseded {
		w.U64(id)
		w.U64(s.supersededBy[id])
	}
	return nil
}

// DecodeSnapshot deserializes a frame table written by EncodeSnapshot. The
// returned ids are the frames expecting an out-of-band embedding, ascending;
// callers must follow up with AttachEmbeddings.
func DecodeSnapshot(r *binio.Reader) (*Snapshot, []uint64, error) {
	s := NewSnapshot()
	var err error
	if s.nextID, err = r.U64(); err != nil {
		return nil, nil, err
	}

	n, err := r.U32()
	if err != nil {
		return nil, nil, err
	}
	var detached []uint64
	for range n {
		f, hasDetached, err := decodeFrame(r)
		if err != nil {
			return nil, nil, err
		}
		s.frames[f.ID] = f
		if hasDetached {
			detached = append(detached, f.ID)
		}
	}

	deleted, err := r.U64Slice()
	if err != nil {
		return nil, nil, err
	}
	s.deleted.AddMany(deleted)

	sn, err := r.U32()
	if err != nil {
		return nil, nil, err
	}
	for range sn {
		id, err := r.U64()
		if err != nil {
			return nil, nil, err
		}
		by, err := r.U64()
		if err != nil {
			return nil, nil, err
		}
		s.superseded.Add(id)
		s.supersededBy[id] = by
	}
	return s, detached, nil
}

// AttachEmbeddings pairs a decoded embedding batch with the frames that
// expect one. Only legal during snapshot load, before the snapshot is
// published to readers.
func (s *Snapshot) AttachEmbeddings(ids []uint64, batch [][]float32) error {
	if len(ids) != len(batch) {
		return fmt.Errorf("framestore: embedding payload count mismatch: %d frames expect embeddings, payload has %d", len(ids), len(batch))
	}
	for i, id := range ids {
		f, ok := s.frames[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		f.Embedding = batch[i]
	}
	return nil
}
