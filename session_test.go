package waxgo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxlabs/waxgo/factstore"
	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/surrogate"
)

func TestCommitAtomicVisibility(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	writer, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer writer.Close()

	id, err := writer.Put([]byte("draft"))
	require.NoError(t, err)
	require.NoError(t, writer.IndexText(id, "draft"))
	require.NoError(t, writer.IndexVector(id, []float32{0, 0, 1}))

	// The writer reads its own staged state.
	content, err := writer.FrameContent(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("draft"), content)
	hits, err := writer.SearchText("draft", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// A reader opened before the commit never sees the staged work.
	early, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer early.Close()

	require.NoError(t, writer.Commit(ctx))

	_, err = early.FrameContent(id)
	assert.ErrorIs(t, err, ErrNotFound, "pre-commit reader keeps its snapshot")
	hits, err = early.SearchText("draft", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A reader opened after the commit sees every subsystem at once.
	late, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer late.Close()
	content, err = late.FrameContent(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("draft"), content)
	hits, err = late.SearchText("draft", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	vhits, err := late.SearchVector([]float32{0, 0, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, vhits, 1)
}

func TestCloseDiscardsStagedWork(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	writer, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	id, err := writer.Put([]byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, writer.IndexText(id, "never committed"))
	assert.Equal(t, 2, writer.Pending())
	require.NoError(t, writer.Close())

	reader, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer reader.Close()
	_, err = reader.FrameContent(id)
	assert.ErrorIs(t, err, ErrNotFound)
	hits, err := reader.SearchText("never", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, store.Stats().Frames)
}

func TestSingleWriter(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	first, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)

	t.Run("FailMode", func(t *testing.T) {
		cfg := ReadWriteConfig()
		cfg.Mode = ReadWriteFail
		_, err := store.OpenSession(ctx, cfg)
		assert.ErrorIs(t, err, ErrWriterBusy)
	})

	t.Run("ReadersUnblocked", func(t *testing.T) {
		reader, err := store.OpenSession(ctx, ReadOnlyConfig())
		require.NoError(t, err)
		require.NoError(t, reader.Close())
	})

	t.Run("WaitMode", func(t *testing.T) {
		acquired := make(chan *Session)
		go func() {
			sess, err := store.OpenSession(ctx, ReadWriteConfig())
			if err != nil {
				close(acquired)
				return
			}
			acquired <- sess
		}()

		select {
		case <-acquired:
			t.Fatal("second writer acquired while first is open")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, first.Close())
		select {
		case sess := <-acquired:
			require.NotNil(t, sess)
			require.NoError(t, sess.Close())
		case <-time.After(time.Second):
			t.Fatal("waiting writer never acquired")
		}
	})

	t.Run("WaitRespectsContext", func(t *testing.T) {
		blocker, err := store.OpenSession(ctx, ReadWriteConfig())
		require.NoError(t, err)
		defer blocker.Close()

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = store.OpenSession(short, ReadWriteConfig())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSessionContinuesAfterCommit(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	id1, err := sess.Put([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, 0, sess.Pending())

	id2, err := sess.Put([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, id1+1, id2)
	require.NoError(t, sess.Commit(ctx))

	assert.Equal(t, uint64(2), store.Stats().CommitSeq)
}

func TestEmptyCommitIsNoop(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, uint64(0), store.Stats().CommitSeq)
	assert.Equal(t, 0, store.WALStats().Records)
}

func TestReadOnlySessionRejectsWrites(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Put([]byte("nope"))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, sess.Delete(1), ErrReadOnly)
	assert.ErrorIs(t, sess.IndexText(1, "nope"), ErrReadOnly)
	assert.ErrorIs(t, sess.Commit(ctx), ErrReadOnly)
}

func TestClosedSession(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close(), "close is idempotent")

	_, err = sess.Put([]byte("x"))
	assert.ErrorIs(t, err, ErrClosedSession)
	_, err = sess.FrameMeta(1)
	assert.ErrorIs(t, err, ErrClosedSession)
	assert.ErrorIs(t, sess.Commit(ctx), ErrClosedSession)
}

func TestDisabledSubsystems(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, Config{Mode: ReadWriteWait})
	require.NoError(t, err)
	defer sess.Close()

	id, err := sess.Put([]byte("frames always work"))
	require.NoError(t, err)

	assert.ErrorIs(t, sess.IndexText(id, "x"), ErrSubsystemDisabled)
	_, err = sess.SearchText("x", 5)
	assert.ErrorIs(t, err, ErrSubsystemDisabled)
	assert.ErrorIs(t, sess.IndexVector(id, []float32{1, 0, 0}), ErrSubsystemDisabled)
	_, err = sess.SearchVector([]float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = sess.AssertFact("s", "p", "o", factstore.Open(0))
	assert.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = sess.Facts("s", "p", factstore.Latest(), 5)
	assert.ErrorIs(t, err, ErrSubsystemDisabled)

	// Frames committed by a partially configured session stay readable
	// from a fully configured one.
	require.NoError(t, sess.Commit(ctx))
	full, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer full.Close()
	content, err := full.FrameContent(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("frames always work"), content)
}

func TestDimensionEnforced(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Put([]byte("bad"), frame.WithEmbedding([]float32{1, 2}))
	var dims *ErrDimensionMismatch
	require.ErrorAs(t, err, &dims)
	assert.Equal(t, 3, dims.Expected)
	assert.Equal(t, 2, dims.Actual)

	id, err := sess.Put([]byte("ok"))
	require.NoError(t, err)
	err = sess.IndexVector(id, []float32{1, 2, 3, 4})
	require.ErrorAs(t, err, &dims)
	assert.Equal(t, 4, dims.Actual)
}

func TestPutBatchAtomicValidation(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.PutBatch([]BatchItem{
		{Content: []byte("ok"), Options: []func(o *frame.PutOptions){frame.WithEmbedding([]float32{1, 0, 0})}},
		{Content: []byte("bad"), Options: []func(o *frame.PutOptions){frame.WithEmbedding([]float32{1, 0})}},
	})
	var dims *ErrDimensionMismatch
	require.ErrorAs(t, err, &dims)
	assert.Equal(t, 0, sess.Pending(), "a failed batch stages nothing")

	// A non-embedding failure after valid items must roll back just the
	// same. Compression 99 is not a known scheme.
	_, err = sess.PutBatch([]BatchItem{
		{Content: []byte("ok")},
		{Content: []byte("bad"), Options: []func(o *frame.PutOptions){frame.WithCompression(frame.Compression(99))}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown compression")
	assert.Equal(t, 0, sess.Pending(), "a failed batch stages nothing")

	ids, err := sess.PutBatch([]BatchItem{
		{Content: []byte("a")},
		{Content: []byte("b"), Options: []func(o *frame.PutOptions){frame.WithKind("note")}},
		{Content: []byte("c")},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	metas, err := sess.FrameMetasByID(ids)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "note", metas[ids[1]].Kind)

	contents, err := sess.FrameContents(ids)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), contents[ids[1]])

	for _, id := range ids {
		content, err := sess.FrameContent(id)
		require.NoError(t, err)
		assert.Equal(t, contents[id], content)
	}
}

func TestSupersedeChain(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	orig, err := sess.Put([]byte("v1"))
	require.NoError(t, err)
	repl, err := sess.Put([]byte("v2"))
	require.NoError(t, err)
	require.NoError(t, sess.Supersede(orig, repl))
	require.NoError(t, sess.Commit(ctx))

	meta, err := sess.FrameMeta(orig)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusSuperseded, meta.Status)
	assert.Equal(t, repl, meta.SupersededBy)

	// Superseded content remains readable until vacuumed.
	content, err := sess.FrameContent(orig)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), content)
	assert.Equal(t, 1, store.Stats().LiveFrames)
}

func TestSurrogateResolution(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	source, err := sess.Put([]byte("the full conversation"))
	require.NoError(t, err)
	sur, err := sess.Put([]byte("summary"),
		frame.WithKind(surrogate.Kind),
		frame.WithMetadata(frame.MetadataFromPairs(
			surrogate.MetaSourceFrameID, fmt.Sprintf("%d", source),
			surrogate.MetaSurrogateAlgo, "trunc",
		)),
	)
	require.NoError(t, err)

	// Resolution works against staged frames before the commit.
	got, ok, err := sess.SurrogateFrameID(source)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sur, got)

	require.NoError(t, sess.Commit(ctx))

	reader, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer reader.Close()
	got, ok, err = reader.SurrogateFrameID(source)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sur, got)

	// Deleting the source invalidates resolution on the next lookup.
	require.NoError(t, sess.Delete(source))
	_, ok, err = sess.SurrogateFrameID(source)
	require.NoError(t, err)
	assert.False(t, ok)

	// The pre-delete reader still resolves.
	_, ok, err = reader.SurrogateFrameID(source)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactTimeline(t *testing.T) {
	now := int64(1_000)
	store, _ := testStore(t, withNowFunc(func() int64 { return now }))
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadWriteConfig())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.UpsertEntity("user:anna", "person", []string{"Anna"})
	require.NoError(t, err)

	// System time 1000: we learn Anna lives in Berlin.
	_, err = sess.AssertFact("user:anna", "city", "Berlin", factstore.Open(0))
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	// System time 2000: a correction supersedes the Berlin version.
	now = 2_000
	_, err = sess.AssertFact("user:anna", "city", "Oslo", factstore.Open(500))
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	ent, ok, err := sess.Entity("user:anna")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Anna"}, ent.Aliases)

	latest, err := sess.Facts("user:anna", "city", factstore.Latest(), 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Oslo", string(latest[0].Object))

	// What did we believe at system time 1500?
	past, err := sess.Facts("user:anna", "city", factstore.At(1500), 10)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, "Berlin", string(past[0].Object))

	// Before anything was recorded.
	none, err := sess.Facts("user:anna", "city", factstore.At(999), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	now = 3_000
	require.NoError(t, sess.RetractFact("user:anna", "city"))
	require.NoError(t, sess.Commit(ctx))

	latest, err = sess.Facts("user:anna", "city", factstore.Latest(), 10)
	require.NoError(t, err)
	assert.Empty(t, latest)

	// The retracted version remains queryable in the past.
	was, err := sess.Facts("user:anna", "city", factstore.At(2_500), 10)
	require.NoError(t, err)
	require.Len(t, was, 1)
	assert.Equal(t, "Oslo", string(was[0].Object))

	_, err = sess.Facts("user:anna", "city", factstore.Latest(), 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestSearchLimitValidation(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sess, err := store.OpenSession(ctx, ReadOnlyConfig())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.SearchText("q", 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = sess.SearchVector([]float32{1, 0, 0}, -1)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
