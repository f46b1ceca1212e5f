package waxgo

import (
	"context"
	"fmt"
	"time"

	"github.com/waxlabs/waxgo/factstore"
	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/framestore"
	"github.com/waxlabs/waxgo/lexical"
	"github.com/waxlabs/waxgo/surrogate"
	"github.com/waxlabs/waxgo/vindex"
)

// Session is the unit of work over a store. It observes the committed state
// captured when it was opened (snapshot-at-open) plus its own buffered
// mutations; nothing it stages is visible elsewhere until Commit.
//
// A Session is not safe for concurrent use. The store itself is: open as
// many read-only sessions in parallel as you like.
type Session struct {
	store *Store
	cfg   Config
	nowMs func() int64

	base    *storeState
	frames  *framestore.Staging
	facts   *factstore.Staging
	text    *lexical.Staging
	vectors *vindex.Staging
	sur     *surrogate.Index

	holdsWriter bool
	closed      bool
}

// OpenSession opens a session per cfg. Read-write modes contend for the
// store's single writer slot: ReadWriteWait blocks until it frees (or ctx is
// done), ReadWriteFail returns ErrWriterBusy immediately.
func (s *Store) OpenSession(ctx context.Context, cfg Config) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	sess := &Session{store: s, cfg: cfg, nowMs: s.opts.nowMs}

	switch cfg.Mode {
	case ReadOnly:
	case ReadWriteWait:
		if err := s.writer.Acquire(ctx); err != nil {
			return nil, err
		}
		sess.holdsWriter = true
	case ReadWriteFail:
		if err := s.writer.TryAcquire(); err != nil {
			return nil, translateError(err)
		}
		sess.holdsWriter = true
	default:
		return nil, fmt.Errorf("invalid session mode %d", cfg.Mode)
	}

	// The base state is captured after lock acquisition, so a writer
	// always stages against the latest committed state.
	sess.reset(s.state.Load())
	return sess, nil
}

// reset points the session's stagings at a fresh base.
func (sess *Session) reset(base *storeState) {
	sess.base = base
	sess.frames = framestore.NewStaging(base.frames, sess.store.dimension, sess.nowMs)
	sess.facts = factstore.NewStaging(base.facts)
	sess.text = lexical.NewStaging(base.text)
	sess.vectors = vindex.NewStaging(base.vectors)
	sess.sur = base.sur
}

func (sess *Session) readable() error {
	if sess.closed {
		return ErrClosedSession
	}
	return nil
}

func (sess *Session) writable() error {
	if sess.closed {
		return ErrClosedSession
	}
	if !sess.holdsWriter {
		return ErrReadOnly
	}
	return nil
}

// Pending returns the number of buffered operations across all subsystems.
func (sess *Session) Pending() int {
	return sess.frames.Pending() + sess.facts.Pending() +
		sess.text.Pending() + sess.vectors.Pending()
}

// --- Frames ---

// Put stages a new frame and returns its id. The id becomes observable to
// other sessions only after Commit; a session closed without committing
// never surfaces it.
func (sess *Session) Put(content []byte, optFns ...func(o *frame.PutOptions)) (uint64, error) {
	if err := sess.writable(); err != nil {
		return 0, err
	}
	var opts frame.PutOptions
	opts.Compression = sess.store.opts.defaultCompression
	for _, fn := range optFns {
		fn(&opts)
	}

	id, err := sess.frames.Put(content, opts)
	if err != nil {
		return 0, translateError(err)
	}
	if opts.Kind == surrogate.Kind {
		ops := sess.frames.Ops()
		sess.sur = sess.sur.WithFrame(ops[len(ops)-1].Frame)
	}
	return id, nil
}

// BatchItem is one frame in a PutBatch call.
type BatchItem struct {
	Content []byte
	Options []func(o *frame.PutOptions)
}

// PutBatch stages several frames in order and returns their ids. It fails
// atomically: if any item is invalid, none of the batch is staged.
func (sess *Session) PutBatch(items []BatchItem) ([]uint64, error) {
	if err := sess.writable(); err != nil {
		return nil, err
	}

	// Validate every item up front so a failure cannot leave a partial
	// batch in the buffer. The checks mirror what staging a frame can
	// reject: embedding dimensionality and the compression enum.
	dim := sess.store.dimension
	for i, item := range items {
		opts := frame.PutOptions{Compression: sess.store.opts.defaultCompression}
		for _, fn := range item.Options {
			fn(&opts)
		}
		if !opts.Compression.Valid() {
			return nil, fmt.Errorf("put batch item %d: unknown compression %d", i, opts.Compression)
		}
		if dim > 0 && opts.Embedding != nil && len(opts.Embedding) != dim {
			return nil, translateError(&framestore.ErrDimensionMismatch{
				Expected: dim, Actual: len(opts.Embedding),
			})
		}
	}

	ids := make([]uint64, 0, len(items))
	for _, item := range items {
		id, err := sess.Put(item.Content, item.Options...)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete marks the frame Deleted. Idempotent on an already-deleted id;
// fails with ErrNotFound if the id never existed.
func (sess *Session) Delete(id uint64) error {
	if err := sess.writable(); err != nil {
		return err
	}
	return translateError(sess.frames.Delete(id))
}

// Supersede marks supersededID replaced by supersedingID. Both frames must
// exist; the superseded frame's content stays readable.
func (sess *Session) Supersede(supersededID, supersedingID uint64) error {
	if err := sess.writable(); err != nil {
		return err
	}
	return translateError(sess.frames.Supersede(supersededID, supersedingID))
}

// FrameMeta returns the metadata view of one frame.
func (sess *Session) FrameMeta(id uint64) (frame.Meta, error) {
	if err := sess.readable(); err != nil {
		return frame.Meta{}, err
	}
	m, err := sess.frames.Meta(id)
	return m, translateError(err)
}

// FrameMetas returns metadata for every frame, tombstones included,
// ascending by id.
func (sess *Session) FrameMetas() ([]frame.Meta, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	return sess.frames.Metas(), nil
}

// FrameMetasByID resolves several ids in one call. Missing ids are absent
// from the result, not errors.
func (sess *Session) FrameMetasByID(ids []uint64) (map[uint64]frame.Meta, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	return sess.frames.MetasByID(ids), nil
}

// FrameContent returns the decoded content of one frame.
func (sess *Session) FrameContent(id uint64) ([]byte, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	content, err := sess.frames.Content(id)
	return content, translateError(err)
}

// FrameContents resolves several frames' content in one call. Missing ids
// are absent from the result.
func (sess *Session) FrameContents(ids []uint64) (map[uint64][]byte, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	contents, err := sess.frames.Contents(ids)
	return contents, translateError(err)
}

// FrameEmbedding returns the frame's embedding, if it has one.
func (sess *Session) FrameEmbedding(id uint64) ([]float32, bool, error) {
	if err := sess.readable(); err != nil {
		return nil, false, err
	}
	vec, ok := sess.frames.Embedding(id)
	return vec, ok, nil
}

// SurrogateFrameID resolves the surrogate for sourceFrameID, honoring the
// session's view of the source's liveness: a source deleted or superseded in
// this session's buffer already resolves to nothing here.
func (sess *Session) SurrogateFrameID(sourceFrameID uint64) (uint64, bool, error) {
	if err := sess.readable(); err != nil {
		return 0, false, err
	}
	id, ok := sess.sur.FrameID(sourceFrameID, stagingLiveness{sess.frames})
	return id, ok, nil
}

type stagingLiveness struct {
	frames *framestore.Staging
}

func (l stagingLiveness) Live(id uint64) bool {
	m, err := l.frames.Meta(id)
	return err == nil && m.Status == frame.StatusLive
}

// --- Structured memory ---

func (sess *Session) structured() error {
	if !sess.cfg.EnableStructuredMemory {
		return fmt.Errorf("%w: structured memory", ErrSubsystemDisabled)
	}
	return nil
}

// UpsertEntity stages an entity version for key and returns the entity's
// stable id.
func (sess *Session) UpsertEntity(key factstore.EntityKey, kind string, aliases []string) (uint64, error) {
	if err := sess.writable(); err != nil {
		return 0, err
	}
	if err := sess.structured(); err != nil {
		return 0, err
	}
	return sess.facts.UpsertEntity(key, kind, aliases, sess.nowMs()), nil
}

// Entity returns the latest version of the entity at key.
func (sess *Session) Entity(key factstore.EntityKey) (factstore.Entity, bool, error) {
	if err := sess.readable(); err != nil {
		return factstore.Entity{}, false, err
	}
	if err := sess.structured(); err != nil {
		return factstore.Entity{}, false, err
	}
	e, ok := sess.facts.Entity(key)
	return e, ok, nil
}

// AssertFact stages a fact with the given valid-time interval. Its system
// interval opens now; any open version of the same (subject, predicate)
// closes at the same instant. Returns the fact id.
func (sess *Session) AssertFact(subject factstore.EntityKey, predicate factstore.PredicateKey, object factstore.Value, valid factstore.Interval, evidence ...uint64) (uint64, error) {
	if err := sess.writable(); err != nil {
		return 0, err
	}
	if err := sess.structured(); err != nil {
		return 0, err
	}
	system := factstore.Open(sess.nowMs())
	return sess.facts.AssertFact(subject, predicate, object, valid, system, evidence), nil
}

// RetractFact closes the open versions of (subject, predicate) as of now.
// Retracting an already-closed fact is a no-op.
func (sess *Session) RetractFact(subject factstore.EntityKey, predicate factstore.PredicateKey) error {
	if err := sess.writable(); err != nil {
		return err
	}
	if err := sess.structured(); err != nil {
		return err
	}
	sess.facts.RetractFact(subject, predicate, sess.nowMs())
	return nil
}

// Facts queries the fact ledger. An empty predicate matches all predicates
// of the subject. Results are ordered by descending valid-time start.
func (sess *Session) Facts(subject factstore.EntityKey, predicate factstore.PredicateKey, asOf factstore.AsOf, limit int) ([]factstore.Fact, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	if err := sess.structured(); err != nil {
		return nil, err
	}
	facts, err := sess.facts.Facts(subject, predicate, asOf, limit)
	return facts, translateError(err)
}

// --- Text search ---

func (sess *Session) textEnabled() error {
	if !sess.cfg.EnableTextSearch {
		return fmt.Errorf("%w: text search", ErrSubsystemDisabled)
	}
	return nil
}

// IndexText stages search text for a frame. The frame must exist in the
// session's view.
func (sess *Session) IndexText(frameID uint64, text string) error {
	if err := sess.writable(); err != nil {
		return err
	}
	if err := sess.textEnabled(); err != nil {
		return err
	}
	if _, err := sess.frames.Meta(frameID); err != nil {
		return translateError(err)
	}
	sess.text.Index(frameID, text)
	return nil
}

// RemoveText stages removal of a frame's search text.
func (sess *Session) RemoveText(frameID uint64) error {
	if err := sess.writable(); err != nil {
		return err
	}
	if err := sess.textEnabled(); err != nil {
		return err
	}
	sess.text.Remove(frameID)
	return nil
}

// SearchText runs a keyword search over the session's view and returns at
// most k candidates, best first.
func (sess *Session) SearchText(query string, k int) ([]lexical.Candidate, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	if err := sess.textEnabled(); err != nil {
		return nil, err
	}
	start := time.Now()
	hits, err := sess.text.Search(query, k)
	sess.store.opts.metricsCollector.RecordSearch(k, time.Since(start), err)
	return hits, translateError(err)
}

// --- Vector search ---

func (sess *Session) vectorEnabled() error {
	if !sess.cfg.EnableVectorSearch {
		return fmt.Errorf("%w: vector search", ErrSubsystemDisabled)
	}
	return nil
}

// IndexVector stages a search vector for a frame. The frame must exist in
// the session's view.
func (sess *Session) IndexVector(frameID uint64, vector []float32) error {
	if err := sess.writable(); err != nil {
		return err
	}
	if err := sess.vectorEnabled(); err != nil {
		return err
	}
	if _, err := sess.frames.Meta(frameID); err != nil {
		return translateError(err)
	}
	return translateError(sess.vectors.Add(frameID, vector))
}

// RemoveVector stages removal of a frame's search vector.
func (sess *Session) RemoveVector(frameID uint64) error {
	if err := sess.writable(); err != nil {
		return err
	}
	if err := sess.vectorEnabled(); err != nil {
		return err
	}
	sess.vectors.Remove(frameID)
	return nil
}

// SearchVector runs a similarity search over the session's view and returns
// at most k candidates, best first.
func (sess *Session) SearchVector(query []float32, k int) ([]vindex.Candidate, error) {
	if err := sess.readable(); err != nil {
		return nil, err
	}
	if err := sess.vectorEnabled(); err != nil {
		return nil, err
	}
	start := time.Now()
	hits, err := sess.vectors.Search(query, k)
	sess.store.opts.metricsCollector.RecordSearch(k, time.Since(start), err)
	return hits, translateError(err)
}

// --- Commit / Close ---

// Commit flushes every buffered mutation as one atomic unit: a reader
// opened after Commit returns sees all of them, a reader opened before sees
// none. The session stays open and stages against the new state.
func (sess *Session) Commit(ctx context.Context) error {
	if err := sess.writable(); err != nil {
		return err
	}

	start := time.Now()
	ops := sess.Pending()
	next, err := sess.store.commit(ctx,
		sess.frames.Ops(),
		sess.facts.Ops(),
		sess.text.Ops(),
		sess.vectors.Ops(),
	)
	sess.store.opts.metricsCollector.RecordCommit(ops, time.Since(start), err)
	if err != nil {
		sess.store.logger.LogCommit(ctx, 0, ops, err)
		return err
	}
	sess.store.logger.LogCommit(ctx, next.seq, ops, nil)
	sess.reset(next)
	return nil
}

// Close releases the writer slot if held and discards any uncommitted
// buffered state. Closing twice is a no-op; any other use after Close fails
// with ErrClosedSession.
func (sess *Session) Close() error {
	if sess.closed {
		return nil
	}
	sess.closed = true
	if sess.holdsWriter {
		sess.store.writer.Release()
		sess.holdsWriter = false
	}
	return nil
}
