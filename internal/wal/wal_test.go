package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "journal.wal")
}

func collect(t *testing.T, l *Log) map[uint64][]byte {
	t.Helper()
	got := make(map[uint64][]byte)
	require.NoError(t, l.Replay(func(seq uint64, payload []byte) error {
		got[seq] = append([]byte(nil), payload...)
		return nil
	}))
	return got
}

func TestAppendReplay(t *testing.T) {
	path := walPath(t)
	l, err := Open(path)
	require.NoError(t, err)

	seq1, err := l.Append([]byte("first commit"))
	require.NoError(t, err)
	seq2, err := l.Append([]byte("second commit"))
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)

	got := collect(t, l)
	assert.Equal(t, []byte("first commit"), got[seq1])
	assert.Equal(t, []byte("second commit"), got[seq2])

	// Append still works after a replay.
	_, err = l.Append([]byte("third"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.Len(t, collect(t, l2), 3)
	assert.Equal(t, seq2+1, l2.LastSeq())
}

func TestCompressedRoundTrip(t *testing.T) {
	path := walPath(t)
	l, err := Open(path, func(o *Options) { o.Compress = true })
	require.NoError(t, err)

	payload := make([]byte, 4096) // zeros compress well
	seq, err := l.Append(payload)
	require.NoError(t, err)
	assert.Less(t, l.Stats().SizeBytes, int64(len(payload)))
	require.NoError(t, l.Close())

	// Reopen without asking for compression: the file header wins.
	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	got := collect(t, l2)
	assert.Equal(t, payload, got[seq])
}

func TestTornTailTruncated(t *testing.T) {
	path := walPath(t)
	l, err := Open(path)
	require.NoError(t, err)
	seq, err := l.Append([]byte("intact"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Simulate a crash mid-append: half a record frame at the tail.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	got := collect(t, l2)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("intact"), got[seq])

	// The torn bytes are gone; a fresh append lands cleanly.
	seq2, err := l2.Append([]byte("after recovery"))
	require.NoError(t, err)
	require.NoError(t, l2.Close())

	l3, err := Open(path)
	require.NoError(t, err)
	defer l3.Close()
	assert.Equal(t, []byte("after recovery"), collect(t, l3)[seq2])
}

func TestCorruptRecordStopsReplay(t *testing.T) {
	path := walPath(t)
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append([]byte("good"))
	require.NoError(t, err)
	offset := l.Stats().SizeBytes
	_, err = l.Append([]byte("will be corrupted"))
	require.NoError(t, err)
	_, err = l.Append([]byte("unreachable after corruption"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Flip one payload byte in the middle record.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	buf := []byte{0}
	_, err = f.ReadAt(buf, offset+recordFrameLen)
	require.NoError(t, err)
	buf[0] ^= 0x01
	_, err = f.WriteAt(buf, offset+recordFrameLen)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	got := collect(t, l2)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("good"), got[1])
}

func TestTruncateKeepsSequence(t *testing.T) {
	path := walPath(t)
	l, err := Open(path)
	require.NoError(t, err)

	_, err = l.Append([]byte("a"))
	require.NoError(t, err)
	seq2, err := l.Append([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, l.Truncate())
	assert.Empty(t, collect(t, l))
	assert.Equal(t, 0, l.Stats().Records)

	seq3, err := l.Append([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, seq2+1, seq3)
	require.NoError(t, l.Close())

	// A reopened empty-after-checkpoint log takes FirstSeq from the caller.
	require.NoError(t, os.Remove(path))
	l2, err := Open(path, func(o *Options) { o.FirstSeq = 41 })
	require.NoError(t, err)
	defer l2.Close()
	seq, err := l2.Append([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

func TestEmptyPayload(t *testing.T) {
	l, err := Open(walPath(t))
	require.NoError(t, err)
	defer l.Close()

	seq, err := l.Append(nil)
	require.NoError(t, err)
	got := collect(t, l)
	require.Contains(t, got, seq)
	assert.Empty(t, got[seq])
}

func TestClosed(t *testing.T) {
	l, err := Open(walPath(t))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Replay(nil), ErrClosed)
	assert.ErrorIs(t, l.Truncate(), ErrClosed)
	assert.NoError(t, l.Close())
}

func TestBadHeader(t *testing.T) {
	path := walPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a journal at all"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}
