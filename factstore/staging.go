package factstore

// OpKind tags a buffered ledger mutation.
type OpKind uint8

const (
	// OpUpsertEntity records a new entity version.
	OpUpsertEntity OpKind = iota
	// OpAssertFact records a new fact version, closing the previous open one.
	OpAssertFact
	// OpRetractFact closes the open version of a (subject, predicate).
	OpRetractFact
)

// Op is one buffered mutation, in issuance order.
type Op struct {
	Kind   OpKind
	Entity Entity // OpUpsertEntity
	Fact   Fact   // OpAssertFact; OpRetractFact uses Subject/Predicate/System.FromMs
}

// Staging buffers ledger mutations against a base snapshot. Queries on the
// staging observe the buffered mutations (read-your-writes); the base is
// never touched.
type Staging struct {
	base *Snapshot
	view *Snapshot
	ops  []Op
}

// NewStaging creates a buffer over base.
func NewStaging(base *Snapshot) *Staging {
	return &Staging{base: base, view: base.clone()}
}

// Pending returns the number of buffered mutations.
func (st *Staging) Pending() int { return len(st.ops) }

// Ops returns the buffered mutations in issuance order.
func (st *Staging) Ops() []Op { return st.ops }

// UpsertEntity buffers an entity version and returns the entity id, which is
// stable across versions of the same key.
func (st *Staging) UpsertEntity(key EntityKey, kind string, aliases []string, nowMs int64) uint64 {
	op := Op{Kind: OpUpsertEntity, Entity: Entity{
		Key:     key,
		Kind:    kind,
		Aliases: append([]string(nil), aliases...),
		AsOfMs:  nowMs,
	}}
	st.ops = append(st.ops, op)
	return st.view.applyUpsertEntity(op)
}

// AssertFact buffers a fact version and returns its fact id. Any currently
// open version for the same (subject, predicate) is closed at
// system.FromMs.
func (st *Staging) AssertFact(subject EntityKey, predicate PredicateKey, object Value, valid, system Interval, evidence []uint64) uint64 {
	op := Op{Kind: OpAssertFact, Fact: Fact{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Valid:     valid,
		System:    system,
		Evidence:  append([]uint64(nil), evidence...),
	}}
	st.ops = append(st.ops, op)
	return st.view.applyAssertFact(op)
}

// RetractFact buffers the closing of the open version of
// (subject, predicate) at nowMs. A retraction with no open version is a
// no-op, which keeps journal replay insensitive to duplicated retractions.
func (st *Staging) RetractFact(subject EntityKey, predicate PredicateKey, nowMs int64) {
	op := Op{Kind: OpRetractFact, Fact: Fact{
		Subject:   subject,
		Predicate: predicate,
		System:    Open(nowMs),
	}}
	st.ops = append(st.ops, op)
	st.view.applyRetractFact(op)
}

// Entity returns the visible entity version, buffered upserts included.
func (st *Staging) Entity(key EntityKey) (Entity, bool) {
	return st.view.Entity(key)
}

// Facts queries the ledger, buffered assertions included.
func (st *Staging) Facts(subject EntityKey, predicate PredicateKey, asOf AsOf, limit int) ([]Fact, error) {
	return st.view.Facts(subject, predicate, asOf, limit)
}
