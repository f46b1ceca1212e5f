package lexical

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
		if op.Kind == OpIndex {
			w.String(op.Text)
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
		case OpIndex:
			if op.Text, err = r.String(); err != nil {
				return nil, err
			}
		case OpRemove:
		default:
			return nil, fmt.Errorf("lexical: unknown op kind %d", kind)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeSnapshot serializes the committed index: document lengths ascending
// by id, then terms in lexicographic order with their postings.
func (s *Snapshot) EncodeSnapshot(w *binio.Writer) {
	ids := make([]uint64, 0, len(s.docLengths))
	for id := range s.docLengths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w.U32(uint32(len(ids)))
	for _, id := range ids {
		w.U64(id)
		w.U32(uint32(s.docLengths[id]))
	}

	terms := make([]string, 0, len(s.inverted))
	for t := range s.inverted {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	w.U32(uint32(len(terms)))
	for _, t := range terms {
		w.String(t)
		postings := s.inverted[t]
		w.U32(uint32(len(postings)))
		for _, p := range postings {
			w.U64(p.id)
			w.U32(uint32(p.count))
		}
	}
}

// DecodeSnapshot deserializes an index written by EncodeSnapshot.
func DecodeSnapshot(r *binio.Reader) (*Snapshot, error) {
	s := NewSnapshot()

	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	for range n {
		id, err := r.U64()
		if err != nil {
			return nil, err
		}
		length, err := r.U32()
		if err != nil {
			return nil, err
		}
		s.docLengths[id] = int(length)
		s.totalLength += int64(length)
	}

	tn, err := r.U32()
	if err != nil {
		return nil, err
	}
	for range tn {
		t, err := r.String()
		if err != nil {
			return nil, err
		}
		pn, err := r.U32()
		if err != nil {
			return nil, err
		}
		postings := make([]posting, 0, pn)
		for range pn {
			id, err := r.U64()
			if err != nil {
				return nil, err
			}
			count, err := r.U32()
			if err != nil {
				return nil, err
			}
			postings = append(postings, posting{id: id, count: int(count)})
		}
		s.inverted[t] = postings
	}
	return s, nil
}
