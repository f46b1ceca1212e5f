package factstore

import (
	"fmt"

	"github.com/waxlabs/waxgo/internal/binio"
)

func encodeEntity(w *binio.Writer, e Entity) {
	w.U64(e.ID)
	w.String(string(e.Key))
	w.String(e.Kind)
	w.U32(uint32(len(e.Aliases)))
	for _, a := range e.Aliases {
		w.String(a)
	}
	w.I64(e.AsOfMs)
}

func decodeEntity(r *binio.Reader) (Entity, error) {
	var e Entity
	var err error
	if e.ID, err = r.U64(); err != nil {
		return e, err
	}
	key, err := r.String()
	if err != nil {
		return e, err
	}
	e.Key = EntityKey(key)
	if e.Kind, err = r.String(); err != nil {
		return e, err
	}
	n, err := r.U32()
	if err != nil {
		return e, err
	}
	for range n {
		a, err := r.String()
		if err != nil {
			return e, err
		}
		e.Aliases = append(e.Aliases, a)
	}
	e.AsOfMs, err = r.I64()
	return e, err
}

func encodeFact(w *binio.Writer, f Fact) {
	w.U64(f.ID)
	w.String(string(f.Subject))
	w.String(string(f.Predicate))
	w.String(string(f.Object))
	w.I64(f.Valid.FromMs)
	w.I64(f.Valid.ToMs)
	w.I64(f.System.FromMs)
	w.I64(f.System.ToMs)
	w.U64Slice(f.Evidence)
}

func decodeFact(r *binio.Reader) (Fact, error) {
	var f Fact
	var err error
	if f.ID, err = r.U64(); err != nil {
		return f, err
	}
	subject, err := r.String()
	if err != nil {
		return f, err
	}
	f.Subject = EntityKey(subject)
	predicate, err := r.String()
	if err != nil {
		return f, err
	}
	f.Predicate = PredicateKey(predicate)
	object, err := r.String()
	if err != nil {
		return f, err
	}
	f.Object = Value(object)
	if f.Valid.FromMs, err = r.I64(); err != nil {
		return f, err
	}
	if f.Valid.ToMs, err = r.I64(); err != nil {
		return f, err
	}
	if f.System.FromMs, err = r.I64(); err != nil {
		return f, err
	}
	if f.System.ToMs, err = r.I64(); err != nil {
		return f, err
	}
	f.Evidence, err = r.U64Slice()
	return f, err
}

// EncodeOps serializes buffered ops for the commit journal.
func EncodeOps(w *binio.Writer, ops []Op) {
	w.U32(uint32(len(ops)))
	for _, op := range ops {
		w.U8(uint8(op.Kind))
		switch op.Kind {
		case OpUpsertEntity:
			encodeEntity(w, op.Entity)
		case OpAssertFact, OpRetractFact:
			encodeFact(w, op.Fact)
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
		case OpUpsertEntity:
			if op.Entity, err = decodeEntity(r); err != nil {
				return nil, err
			}
		case OpAssertFact, OpRetractFact:
			if op.Fact, err = decodeFact(r); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("fact store: unknown op kind %d", kind)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeSnapshot serializes the committed ledger.
func (s *Snapshot) EncodeSnapshot(w *binio.Writer) {
	w.U64(s.nextEntityID)
	w.U64(s.nextFactID)

	w.U32(uint32(len(s.entities)))
	for _, versions := range s.entities {
		w.U32(uint32(len(versions)))
		for _, e := range versions {
			encodeEntity(w, e)
		}
	}

	total := 0
	for _, byPred := range s.facts {
		total += len(byPred)
	}
	w.U32(uint32(total))
	for _, byPred := range s.facts {
		for _, versions := range byPred {
			w.U32(uint32(len(versions)))
			for _, f := range versions {
				encodeFact(w, f)
			}
		}
	}
}

// DecodeSnapshot deserializes a ledger written by EncodeSnapshot.
func DecodeSnapshot(r *binio.Reader) (*Snapshot, error) {
	s := NewSnapshot()
	var err error
	if s.nextEntityID, err = r.U64(); err != nil {
		return nil, err
	}
	if s.nextFactID, err = r.U64(); err != nil {
		return nil, err
	}

	entityGroups, err := r.U32()
	if err != nil {
		return nil, err
	}
	for range entityGroups {
		versionCount, err := r.U32()
		if err != nil {
			return nil, err
		}
		for range versionCount {
			e, err := decodeEntity(r)
			if err != nil {
				return nil, err
			}
			s.entities[e.Key] = append(s.entities[e.Key], e)
		}
	}

	factGroups, err := r.U32()
	if err != nil {
		return nil, err
	}
	for range factGroups {
		versionCount, err := r.U32()
		if err != nil {
			return nil, err
		}
		for range versionCount {
			f, err := decodeFact(r)
			if err != nil {
				return nil, err
			}
			byPred := s.facts[f.Subject]
			if byPred == nil {
				byPred = make(map[PredicateKey][]Fact)
				s.facts[f.Subject] = byPred
			}
			byPred[f.Predicate] = append(byPred[f.Predicate], f)
		}
	}
	return s, nil
}
