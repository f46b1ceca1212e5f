package framestore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/internal/binio"
)

func fixedNow() int64 { return 1700000000000 }

func commit(t *testing.T, base *Snapshot, st *Staging) *Snapshot {
	t.Helper()
	next, err := Apply(base, st.Ops())
	require.NoError(t, err)
	return next
}

func TestPutAssignsMonotonicIDs(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)

	id1, err := st.Put([]byte("one"), frame.PutOptions{})
	require.NoError(t, err)
	id2, err := st.Put([]byte("two"), frame.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	next := commit(t, base, st)
	assert.Equal(t, uint64(3), next.NextID())

	// A second commit continues from the committed high-water mark.
	st2 := NewStaging(next, 0, fixedNow)
	id3, err := st2.Put([]byte("three"), frame.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id3)
}

func TestPutValidatesEmbeddingDimension(t *testing.T) {
	st := NewStaging(NewSnapshot(), 4, fixedNow)

	_, err := st.Put([]byte("x"), frame.PutOptions{Embedding: []float32{1, 2, 3}})
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	_, err = st.Put([]byte("x"), frame.PutOptions{Embedding: []float32{1, 2, 3, 4}})
	assert.NoError(t, err)
}

func TestPutAssignsTimestamp(t *testing.T) {
	st := NewStaging(NewSnapshot(), 0, fixedNow)

	id, err := st.Put([]byte("x"), frame.PutOptions{})
	require.NoError(t, err)
	m, err := st.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, fixedNow(), m.TimestampMs)

	id, err = st.Put([]byte("y"), frame.PutOptions{TimestampMs: 42})
	require.NoError(t, err)
	m, err = st.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), m.TimestampMs)

	// An explicit zero is a real timestamp, not a request for "now".
	var opts frame.PutOptions
	frame.WithTimestampMs(0)(&opts)
	id, err = st.Put([]byte("z"), opts)
	require.NoError(t, err)
	m, err = st.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.TimestampMs)
}

func TestDeleteSemantics(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	id, err := st.Put([]byte("doomed"), frame.PutOptions{})
	require.NoError(t, err)
	snap := commit(t, base, st)

	st2 := NewStaging(snap, 0, fixedNow)
	require.NoError(t, st2.Delete(id))
	require.NoError(t, st2.Delete(id), "delete is idempotent on an already-deleted id")
	assert.Len(t, st2.Ops(), 1, "idempotent deletes must not buffer twice")

	err = st2.Delete(999)
	assert.ErrorIs(t, err, ErrNotFound)

	snap2 := commit(t, snap, st2)
	status, ok := snap2.Status(id)
	require.True(t, ok)
	assert.Equal(t, frame.StatusDeleted, status)

	// The tombstoned record is retained.
	assert.True(t, snap2.Contains(id))
	m, err := snap2.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusDeleted, m.Status)
}

func TestSupersedeSemantics(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	oldID, err := st.Put([]byte("v1"), frame.PutOptions{})
	require.NoError(t, err)
	newID, err := st.Put([]byte("v2"), frame.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, st.Supersede(oldID, newID))

	assert.ErrorIs(t, st.Supersede(77, newID), ErrNotFound)
	assert.ErrorIs(t, st.Supersede(oldID, 77), ErrNotFound)

	snap := commit(t, base, st)
	m, err := snap.Meta(oldID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusSuperseded, m.Status)
	assert.Equal(t, newID, m.SupersededBy)

	// The superseding frame is itself live, and the superseded content
	// is not implicitly deleted.
	assert.True(t, snap.Live(newID))
	content, err := snap.Content(oldID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), content)
}

func TestBatchedLookupEquivalence(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	var ids []uint64
	for _, c := range []string{"a", "b", "c", "d"} {
		id, err := st.Put([]byte(c), frame.PutOptions{Kind: c})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	snap := commit(t, base, st)

	probe := append(append([]uint64{}, ids...), 1000, 2000)
	batched := snap.MetasByID(probe)

	expected := make(map[uint64]frame.Meta)
	for _, id := range probe {
		if m, err := snap.Meta(id); err == nil {
			expected[id] = m
		}
	}
	assert.Equal(t, expected, batched)
	assert.NotContains(t, batched, uint64(1000))
}

func TestReadYourWrites(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	id, err := st.Put([]byte("staged"), frame.PutOptions{Kind: "note"})
	require.NoError(t, err)

	m, err := st.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, "note", m.Kind)
	assert.Equal(t, frame.StatusLive, m.Status)

	require.NoError(t, st.Delete(id))
	m, err = st.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusDeleted, m.Status)

	// The base snapshot never observes buffered state.
	assert.False(t, base.Contains(id))
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("waxgo frame content "), 64)

	for _, c := range []frame.Compression{frame.CompressionNone, frame.CompressionZstd, frame.CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			base := NewSnapshot()
			st := NewStaging(base, 0, fixedNow)
			id, err := st.Put(payload, frame.PutOptions{Compression: c})
			require.NoError(t, err)
			snap := commit(t, base, st)

			got, err := snap.Content(id)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			m, err := snap.Meta(id)
			require.NoError(t, err)
			assert.Equal(t, c, m.Compression)
			if c != frame.CompressionNone {
				assert.Less(t, m.ContentLength, uint64(len(payload)))
			}
		})
	}
}

func TestCompressionIncompressibleLZ4(t *testing.T) {
	payload := []byte{0x01, 0xff, 0x3c, 0x99, 0x5a, 0x00, 0xde, 0xad}
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	id, err := st.Put(payload, frame.PutOptions{Compression: frame.CompressionLZ4})
	require.NoError(t, err)
	snap := commit(t, base, st)

	got, err := snap.Content(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestApplyLeavesBaseUntouched(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	_, err := st.Put([]byte("x"), frame.PutOptions{})
	require.NoError(t, err)

	next := commit(t, base, st)
	assert.Equal(t, 0, base.Len())
	assert.Equal(t, 1, next.Len())
}

func TestOpsCodecRoundTrip(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	md := frame.MetadataFromPairs("source", "test", "lang", "en")
	id1, err := st.Put([]byte("hello"), frame.PutOptions{
		Role:      frame.RoleChunk,
		Kind:      "text.chunk",
		Metadata:  md,
		Embedding: []float32{0.5, -0.5},
	})
	require.NoError(t, err)
	id2, err := st.Put([]byte("world"), frame.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, st.Supersede(id1, id2))
	require.NoError(t, st.Delete(id2))

	w := binio.NewWriter(256)
	EncodeOps(w, st.Ops())

	ops, err := DecodeOps(binio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, ops, 4)

	next, err := Apply(base, ops)
	require.NoError(t, err)

	m, err := next.Meta(id1)
	require.NoError(t, err)
	assert.Equal(t, frame.RoleChunk, m.Role)
	assert.Equal(t, "text.chunk", m.Kind)
	assert.Equal(t, []string{"source", "lang"}, m.Metadata.Keys())
	assert.Equal(t, frame.StatusSuperseded, m.Status)

	emb, ok := next.Embedding(id1)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -0.5}, emb)
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	base := NewSnapshot()
	st := NewStaging(base, 0, fixedNow)
	id1, err := st.Put([]byte("alpha"), frame.PutOptions{Embedding: []float32{1, 2, 3}})
	require.NoError(t, err)
	id2, err := st.Put([]byte("beta"), frame.PutOptions{Compression: frame.CompressionZstd})
	require.NoError(t, err)
	id3, err := st.Put([]byte("gamma"), frame.PutOptions{Embedding: []float32{4, 5, 6}})
	require.NoError(t, err)
	require.NoError(t, st.Delete(id2))
	require.NoError(t, st.Supersede(id1, id3))
	snap := commit(t, base, st)

	w := binio.NewWriter(512)
	require.NoError(t, snap.EncodeSnapshot(w))

	decoded, detached, err := DecodeSnapshot(binio.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []uint64{id1, id3}, detached)
	assert.Equal(t, snap.EmbeddedIDs(), detached)

	var batch [][]float32
	for _, id := range snap.EmbeddedIDs() {
		vec, ok := snap.Embedding(id)
		require.True(t, ok)
		batch = append(batch, vec)
	}
	require.NoError(t, decoded.AttachEmbeddings(detached, batch))

	assert.Equal(t, snap.NextID(), decoded.NextID())
	assert.Equal(t, snap.Metas(), decoded.Metas())
	emb, ok := decoded.Embedding(id3)
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, emb)

	content, err := decoded.Content(id2)
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), content)
}
