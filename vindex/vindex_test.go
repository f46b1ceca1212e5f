package vindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxlabs/waxgo/internal/binio"
)

func build(t *testing.T, metric Metric, dim int, vecs map[uint64][]float32) *Snapshot {
	t.Helper()
	st := NewStaging(NewSnapshot(metric, dim))
	for id, v := range vecs {
		require.NoError(t, st.Add(id, v))
	}
	snap, err := Apply(NewSnapshot(metric, dim), st.Ops())
	require.NoError(t, err)
	return snap
}

func ids(cands []Candidate) []uint64 {
	out := make([]uint64, len(cands))
	for i, c := range cands {
		out[i] = c.FrameID
	}
	return out
}

func TestSearchL2(t *testing.T) {
	snap := build(t, MetricL2, 2, map[uint64][]float32{
		1: {0, 0},
		2: {1, 0},
		3: {3, 4},
	})

	res, err := snap.Search([]float32{0.9, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids(res))
	assert.InDelta(t, 0.01, res[0].Score, 1e-6)
}

func TestSearchCosine(t *testing.T) {
	snap := build(t, MetricCosine, 2, map[uint64][]float32{
		1: {10, 0}, // same direction as the query, large magnitude
		2: {0, 1},
		3: {1, 1},
	})

	res, err := snap.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res[0].FrameID)
	assert.InDelta(t, 1.0, float64(res[0].Score), 1e-6)
	assert.Equal(t, uint64(2), res[2].FrameID)

	t.Run("ZeroQuery", func(t *testing.T) {
		_, err := snap.Search([]float32{0, 0}, 1)
		assert.ErrorIs(t, err, ErrZeroVector)
	})

	t.Run("ZeroVectorRejectedAtAdd", func(t *testing.T) {
		st := NewStaging(NewSnapshot(MetricCosine, 2))
		err := st.Add(9, []float32{0, 0})
		assert.ErrorIs(t, err, ErrZeroVector)
		assert.Zero(t, st.Pending())
	})
}

func TestSearchDot(t *testing.T) {
	snap := build(t, MetricDot, 2, map[uint64][]float32{
		1: {1, 0},
		2: {5, 0}, // magnitude matters for dot
	})

	res, err := snap.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids(res))
}

func TestSearchValidation(t *testing.T) {
	snap := build(t, MetricL2, 2, map[uint64][]float32{1: {1, 2}})

	_, err := snap.Search([]float32{1, 2}, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = snap.Search([]float32{1, 2, 3}, 1)
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
}

func TestAddValidatesDimension(t *testing.T) {
	st := NewStaging(NewSnapshot(MetricL2, 3))
	err := st.Add(1, []float32{1, 2})
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Zero(t, st.Pending())
}

func TestRemoveAndReplace(t *testing.T) {
	snap := build(t, MetricL2, 1, map[uint64][]float32{1: {1}, 2: {2}})

	st := NewStaging(snap)
	st.Remove(1)
	require.NoError(t, st.Add(2, []float32{10}))
	next, err := Apply(snap, st.Ops())
	require.NoError(t, err)

	assert.False(t, next.Contains(1))
	res, err := next.Search([]float32{10}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint64(2), res[0].FrameID)
	assert.Zero(t, res[0].Score)

	// Base snapshot is untouched.
	assert.True(t, snap.Contains(1))
	res, err = snap.Search([]float32{2}, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids(res))
}

func TestStagingReadYourWrites(t *testing.T) {
	snap := build(t, MetricL2, 1, map[uint64][]float32{1: {1}})

	st := NewStaging(snap)
	require.NoError(t, st.Add(2, []float32{1.1}))

	res, err := st.Search([]float32{1.05}, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{1, 2}, ids(res))
	assert.True(t, st.Contains(2))
	assert.False(t, snap.Contains(2))
}

func TestOpsCodecRoundTrip(t *testing.T) {
	st := NewStaging(NewSnapshot(MetricDot, 2))
	require.NoError(t, st.Add(1, []float32{0.5, -0.5}))
	require.NoError(t, st.Add(2, []float32{3, 4}))
	st.Remove(1)

	w := binio.NewWriter(0)
	EncodeOps(w, st.Ops())

	got, err := DecodeOps(binio.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, st.Ops(), got)
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	snap := build(t, MetricCosine, 3, map[uint64][]float32{
		1: {1, 0, 0},
		2: {0, 2, 0},
		7: {1, 1, 1},
	})

	w := binio.NewWriter(0)
	snap.EncodeSnapshot(w)

	got, err := DecodeSnapshot(binio.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, snap.Metric(), got.Metric())
	assert.Equal(t, snap.Dimension(), got.Dimension())
	assert.Equal(t, snap.vectors, got.vectors)

	want, err := snap.Search([]float32{1, 1, 0}, 3)
	require.NoError(t, err)
	have, err := got.Search([]float32{1, 1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}
