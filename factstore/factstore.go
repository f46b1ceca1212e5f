// Package factstore implements the bitemporal entity/fact ledger.
//
// A fact is a (subject, predicate, object) triple carrying two independent
// time axes: valid time (true in the modeled world) and system time
// (recorded by the store). For a fixed (subject, predicate), the system-time
// intervals of distinct versions never overlap; asserting a new version
// closes the previous open interval at the new version's system start.
//
// Interval boundary convention: an interval covers [FromMs, ToMs) — the
// opening instant is inclusive and the closing instant exclusive.
package factstore

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrNotFound is returned for a missing entity or fact id.
	ErrNotFound = errors.New("fact store: not found")

	// ErrInvalidLimit is returned for a non-positive query limit.
	ErrInvalidLimit = errors.New("fact store: limit must be positive")
)

// OpenEndMs marks an open-ended interval bound.
const OpenEndMs = math.MaxInt64

// EntityKey is the stable, opaque identifier of an entity.
type EntityKey string

// PredicateKey names a relation between a subject and an object.
type PredicateKey string

// Value is the object of a fact.
type Value string

// Interval is a half-open time range [FromMs, ToMs) in epoch milliseconds.
type Interval struct {
	FromMs int64
	ToMs   int64
}

// Open returns an open-ended interval starting at fromMs.
func Open(fromMs int64) Interval {
	return Interval{FromMs: fromMs, ToMs: OpenEndMs}
}

// Between returns a closed interval [fromMs, toMs).
func Between(fromMs, toMs int64) Interval {
	return Interval{FromMs: fromMs, ToMs: toMs}
}

// IsOpen reports whether the interval has no closing bound.
func (iv Interval) IsOpen() bool { return iv.ToMs == OpenEndMs }

// Contains reports whether ms falls inside the interval. The opening instant
// is inside, the closing instant is not.
func (iv Interval) Contains(ms int64) bool {
	return ms >= iv.FromMs && ms < iv.ToMs
}

// AsOf pins a fact query to a system-time instant.
type AsOf struct {
	atMs   int64
	latest bool
}

// Latest selects, per (subject, predicate), the currently open version.
func Latest() AsOf { return AsOf{latest: true} }

// At selects the version whose system interval contained the given instant.
func At(ms int64) AsOf { return AsOf{atMs: ms} }

func (a AsOf) matches(system Interval) bool {
	if a.latest {
		return system.IsOpen()
	}
	return system.Contains(a.atMs)
}

// Entity is one recorded version of an entity. Versions for a key share the
// entity id; the visible version is last-write-wins ordered by AsOfMs, ties
// broken by insertion order.
type Entity struct {
	ID      uint64
	Key     EntityKey
	Kind    string
	Aliases []string
	AsOfMs  int64
}

// Fact is one recorded version of a (subject, predicate) assertion.
type Fact struct {
	ID        uint64
	Subject   EntityKey
	Predicate PredicateKey
	Object    Value
	Valid     Interval
	System    Interval
	Evidence  []uint64 // supporting frame ids, possibly empty
}

// Snapshot is an immutable view of the committed ledger.
type Snapshot struct {
	entities     map[EntityKey][]Entity
	facts        map[EntityKey]map[PredicateKey][]Fact
	nextEntityID uint64
	nextFactID   uint64
}

// NewSnapshot creates an empty ledger snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		entities:     make(map[EntityKey][]Entity),
		facts:        make(map[EntityKey]map[PredicateKey][]Fact),
		nextEntityID: 1,
		nextFactID:   1,
	}
}

// Entity returns the visible version of key: the highest AsOfMs, with later
// insertions winning ties.
func (s *Snapshot) Entity(key EntityKey) (Entity, bool) {
	versions := s.entities[key]
	if len(versions) == 0 {
		return Entity{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.AsOfMs >= best.AsOfMs {
			best = v
		}
	}
	return best, true
}

// Facts returns, for the subject (and predicate, unless empty, meaning all
// predicates), the version selected by asOf per (subject, predicate),
// ordered by descending Valid.FromMs and truncated to limit.
func (s *Snapshot) Facts(subject EntityKey, predicate PredicateKey, asOf AsOf, limit int) ([]Fact, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	byPredicate := s.facts[subject]
	var hits []Fact
	for pred, versions := range byPredicate {
		if predicate != "" && pred != predicate {
			continue
		}
		for _, f := range versions {
			if asOf.matches(f.System) {
				hits = append(hits, f)
				break // system intervals never overlap: at most one match
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Valid.FromMs != hits[j].Valid.FromMs {
			return hits[i].Valid.FromMs > hits[j].Valid.FromMs
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the total number of recorded fact versions.
func (s *Snapshot) Len() int {
	n := 0
	for _, byPred := range s.facts {
		for _, versions := range byPred {
			n += len(versions)
		}
	}
	return n
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		entities:     make(map[EntityKey][]Entity, len(s.entities)),
		facts:        make(map[EntityKey]map[PredicateKey][]Fact, len(s.facts)),
		nextEntityID: s.nextEntityID,
		nextFactID:   s.nextFactID,
	}
	for k, versions := range s.entities {
		out.entities[k] = append([]Entity(nil), versions...)
	}
	for subj, byPred := range s.facts {
		m := make(map[PredicateKey][]Fact, len(byPred))
		for pred, versions := range byPred {
			m[pred] = append([]Fact(nil), versions...)
		}
		out.facts[subj] = m
	}
	return out
}

func (s *Snapshot) applyUpsertEntity(op Op) uint64 {
	id := s.nextEntityID
	if versions := s.entities[op.Entity.Key]; len(versions) > 0 {
		id = versions[0].ID
	} else {
		s.nextEntityID++
	}
	e := op.Entity
	e.ID = id
	s.entities[e.Key] = append(s.entities[e.Key], e)
	return id
}

func (s *Snapshot) applyAssertFact(op Op) uint64 {
	f := op.Fact
	f.ID = s.nextFactID
	s.nextFactID++

	byPred := s.facts[f.Subject]
	if byPred == nil {
		byPred = make(map[PredicateKey][]Fact)
		s.facts[f.Subject] = byPred
	}
	versions := byPred[f.Predicate]
	for i := range versions {
		if versions[i].System.IsOpen() {
			versions[i].System.ToMs = f.System.FromMs
		}
	}
	byPred[f.Predicate] = append(versions, f)
	return f.ID
}

func (s *Snapshot) applyRetractFact(op Op) {
	versions := s.facts[op.Fact.Subject][op.Fact.Predicate]
	for i := range versions {
		if versions[i].System.IsOpen() {
			versions[i].System.ToMs = op.Fact.System.FromMs
		}
	}
}

// Apply produces a new snapshot with ops applied, leaving base untouched.
func Apply(base *Snapshot, ops []Op) (*Snapshot, error) {
	next := base.clone()
	for _, op := range ops {
		switch op.Kind {
		case OpUpsertEntity:
			next.applyUpsertEntity(op)
		case OpAssertFact:
			next.applyAssertFact(op)
		case OpRetractFact:
			next.applyRetractFact(op)
		default:
			return nil, errors.New("fact store: unknown op kind")
		}
	}
	return next, nil
}
