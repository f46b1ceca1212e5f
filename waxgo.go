package waxgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waxlabs/waxgo/blobstore"
	"github.com/waxlabs/waxgo/factstore"
	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/framestore"
	"github.com/waxlabs/waxgo/internal/binio"
	"github.com/waxlabs/waxgo/internal/wal"
	"github.com/waxlabs/waxgo/internal/writerlock"
	"github.com/waxlabs/waxgo/lexical"
	"github.com/waxlabs/waxgo/surrogate"
	"github.com/waxlabs/waxgo/vcodec"
	"github.com/waxlabs/waxgo/vindex"
)

const (
	snapshotFile   = "snapshot.wax"
	embeddingsFile = "embeddings.wxeb"
	journalFile    = "journal.wal"
	leaseFile      = "LOCK"
)

var (
	snapshotMagic   = [4]byte{'W', 'X', 'S', 'N'}
	snapshotVersion = uint16(1)
)

// storeState is one immutable committed view of every subsystem. A commit
// builds a fresh storeState and publishes it with a single pointer swap, so
// readers always see all subsystems at the same commit boundary.
type storeState struct {
	frames  *framestore.Snapshot
	facts   *factstore.Snapshot
	text    *lexical.Snapshot
	vectors *vindex.Snapshot
	sur     *surrogate.Index
	seq     uint64 // journal sequence of the last applied commit
}

// Store is an embedded memory store rooted at a directory. It owns the
// backing files exclusively; a lease file guards against a second instance
// over the same location.
//
// All reads go through immutable snapshots, so any number of sessions may
// read concurrently. Mutation is funneled through at most one read-write
// session at a time.
type Store struct {
	dir       string
	opts      options
	logger    *Logger
	dimension int
	metric    vindex.Metric

	state   atomic.Pointer[storeState]
	writer  *writerlock.Lock
	journal *wal.Log

	// mu serializes commit, checkpoint and close against each other.
	mu           sync.Mutex
	commitsSince int
	closed       atomic.Bool
}

// Create initializes a new store at dir and opens it. It fails with
// ErrStoreExists when dir already holds a store.
func Create(dir string, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store %s: %w", dir, err)
	}
	if _, err := os.Stat(filepath.Join(dir, snapshotFile)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, dir)
	}

	s := &Store{
		dir:       dir,
		opts:      opts,
		logger:    opts.logger.WithStore(dir),
		dimension: opts.dimension,
		metric:    opts.metric,
		writer:    writerlock.New(),
	}
	if err := s.acquireLease(); err != nil {
		return nil, err
	}

	s.state.Store(&storeState{
		frames:  framestore.NewSnapshot(),
		facts:   factstore.NewSnapshot(),
		text:    lexical.NewSnapshot(),
		vectors: vindex.NewSnapshot(s.metric, s.dimension),
		sur:     surrogate.NewIndex(),
	})

	// Persist the empty checkpoint first so a crash right after Create
	// still leaves an openable store.
	if err := s.writeCheckpoint(s.state.Load()); err != nil {
		s.releaseLease()
		return nil, err
	}
	if err := s.openJournal(0); err != nil {
		s.releaseLease()
		return nil, err
	}
	return s, nil
}

// Open opens an existing store at dir, loading the latest checkpoint and
// replaying any commits the journal holds beyond it.
func Open(dir string, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)

	s := &Store{
		dir:    dir,
		opts:   opts,
		logger: opts.logger.WithStore(dir),
		writer: writerlock.New(),
	}

	snapBytes, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no store at %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}
	embBytes, err := os.ReadFile(filepath.Join(dir, embeddingsFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}

	if err := s.acquireLease(); err != nil {
		return nil, err
	}

	state, dim, metric, err := decodeCheckpoint(snapBytes, embBytes)
	if err != nil {
		s.releaseLease()
		return nil, err
	}
	s.dimension = dim
	s.metric = metric
	s.state.Store(state)

	if err := s.openJournal(state.seq); err != nil {
		s.releaseLease()
		return nil, err
	}

	replayed := 0
	err = s.journal.Replay(func(seq uint64, payload []byte) error {
		next, err := applyCommitPayload(s.state.Load(), payload, seq)
		if err != nil {
			return err
		}
		s.state.Store(next)
		replayed++
		return nil
	})
	s.logger.LogRecovery(context.Background(), replayed, err)
	if err != nil {
		s.journal.Close()
		s.releaseLease()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return s, nil
}

func (s *Store) openJournal(firstSeq uint64) error {
	// FirstSeq is forced last; it is store-managed state, not user config.
	walOpts := append(append([]func(*wal.Options){}, s.opts.walOptions...),
		func(o *wal.Options) { o.FirstSeq = firstSeq })

	journal, err := wal.Open(filepath.Join(s.dir, journalFile), walOpts...)
	if err != nil {
		return err
	}
	s.journal = journal
	return nil
}

func (s *Store) acquireLease() error {
	path := filepath.Join(s.dir, leaseFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: lease file %s present", ErrStoreLocked, path)
		}
		return fmt.Errorf("acquire lease: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

func (s *Store) releaseLease() {
	os.Remove(filepath.Join(s.dir, leaseFile))
}

// Dimension returns the configured embedding dimensionality (0 = unchecked).
func (s *Store) Dimension() int { return s.dimension }

// Metric returns the vector index metric.
func (s *Store) Metric() vindex.Metric { return s.metric }

// applyCommitPayload decodes one journal commit record and applies it on top
// of base. Decoding and application are all-or-nothing: a payload that fails
// any section leaves base untouched.
func applyCommitPayload(base *storeState, payload []byte, seq uint64) (*storeState, error) {
	r := binio.NewReader(payload)

	frameOps, err := framestore.DecodeOps(r)
	if err != nil {
		return nil, fmt.Errorf("commit %d: frame ops: %w", seq, err)
	}
	factOps, err := factstore.DecodeOps(r)
	if err != nil {
		return nil, fmt.Errorf("commit %d: fact ops: %w", seq, err)
	}
	textOps, err := lexical.DecodeOps(r)
	if err != nil {
		return nil, fmt.Errorf("commit %d: text ops: %w", seq, err)
	}
	vectorOps, err := vindex.DecodeOps(r)
	if err != nil {
		return nil, fmt.Errorf("commit %d: vector ops: %w", seq, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("commit %d: %d trailing payload bytes", seq, r.Remaining())
	}
	return applyOps(base, frameOps, factOps, textOps, vectorOps, seq)
}

// applyOps builds the post-commit state. Both live commits and journal
// replay go through here, so replay reconstructs exactly what the committing
// session saw.
func applyOps(base *storeState, frameOps []framestore.Op, factOps []factstore.Op, textOps []lexical.Op, vectorOps []vindex.Op, seq uint64) (*storeState, error) {
	frames, err := framestore.Apply(base.frames, frameOps)
	if err != nil {
		return nil, err
	}
	facts, err := factstore.Apply(base.facts, factOps)
	if err != nil {
		return nil, err
	}
	text := lexical.Apply(base.text, textOps)
	vectors, err := vindex.Apply(base.vectors, vectorOps)
	if err != nil {
		return nil, err
	}

	sur := base.sur
	for _, op := range frameOps {
		if op.Kind == framestore.OpPut && op.Frame.Kind == surrogate.Kind {
			sur = sur.WithFrame(op.Frame)
		}
	}

	return &storeState{
		frames:  frames,
		facts:   facts,
		text:    text,
		vectors: vectors,
		sur:     sur,
		seq:     seq,
	}, nil
}

// commit appends one payload to the journal, publishes the new state, and
// runs the checkpoint policy. Called with the session's writer slot held.
func (s *Store) commit(ctx context.Context, frameOps []framestore.Op, factOps []factstore.Op, textOps []lexical.Op, vectorOps []vindex.Op) (*storeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(frameOps)+len(factOps)+len(textOps)+len(vectorOps) == 0 {
		return s.state.Load(), nil
	}

	w := binio.NewWriter(0)
	framestore.EncodeOps(w, frameOps)
	factstore.EncodeOps(w, factOps)
	lexical.EncodeOps(w, textOps)
	vindex.EncodeOps(w, vectorOps)

	base := s.state.Load()
	next, err := applyOps(base, frameOps, factOps, textOps, vectorOps, 0)
	if err != nil {
		return nil, err
	}

	seq, err := s.journal.Append(w.Bytes())
	if err != nil {
		return nil, err
	}
	next.seq = seq
	s.state.Store(next)

	s.commitsSince++
	if s.shouldCheckpointLocked() {
		if err := s.checkpointLocked(ctx); err != nil {
			// The commit itself is durable; surface the checkpoint
			// failure without rolling visibility back.
			s.logger.LogCheckpoint(ctx, seq, err)
		}
	}
	return next, nil
}

func (s *Store) shouldCheckpointLocked() bool {
	if s.opts.checkpointCommits > 0 && s.commitsSince >= s.opts.checkpointCommits {
		return true
	}
	if s.opts.checkpointBytes > 0 && s.journal.Stats().SizeBytes >= s.opts.checkpointBytes {
		return true
	}
	return false
}

// Checkpoint persists the current committed state as a snapshot and
// truncates the journal.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	return s.checkpointLocked(ctx)
}

func (s *Store) checkpointLocked(ctx context.Context) error {
	start := time.Now()
	state := s.state.Load()
	err := s.writeCheckpoint(state)
	if err == nil {
		err = s.journal.Truncate()
	}
	if err == nil {
		s.commitsSince = 0
	}
	s.opts.metricsCollector.RecordCheckpoint(time.Since(start), err)
	s.logger.LogCheckpoint(ctx, state.seq, err)
	return err
}

// writeCheckpoint serializes state into the snapshot and embeddings files,
// each written to a temp file and renamed so readers never see a torn
// checkpoint.
func (s *Store) writeCheckpoint(state *storeState) error {
	ids := state.frames.EmbeddedIDs()
	batch := make([][]float32, 0, len(ids))
	for _, id := range ids {
		vec, _ := state.frames.Embedding(id)
		batch = append(batch, vec)
	}
	embBytes, err := vcodec.Encode(batch)
	if err != nil {
		return fmt.Errorf("checkpoint embeddings: %w", err)
	}

	w := binio.NewWriter(0)
	w.Raw(snapshotMagic[:])
	w.U16(snapshotVersion)
	w.U8(uint8(s.metric))
	w.U8(0) // reserved
	w.U32(uint32(s.dimension))
	w.U64(state.seq)
	if err := state.frames.EncodeSnapshot(w); err != nil {
		return fmt.Errorf("checkpoint frames: %w", err)
	}
	state.facts.EncodeSnapshot(w)
	state.text.EncodeSnapshot(w)
	state.vectors.EncodeSnapshot(w)
	w.U32(binio.Checksum(w.Bytes()))

	if err := writeFileAtomic(filepath.Join(s.dir, embeddingsFile), embBytes); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, snapshotFile), w.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// decodeCheckpoint parses the snapshot file, verifies its checksum, and
// reattaches the out-of-band embedding payload.
func decodeCheckpoint(snapBytes, embBytes []byte) (*storeState, int, vindex.Metric, error) {
	if len(snapBytes) < 4 {
		return nil, 0, 0, fmt.Errorf("snapshot: file too small")
	}
	body, crcRaw := snapBytes[:len(snapBytes)-4], snapBytes[len(snapBytes)-4:]
	crcReader := binio.NewReader(crcRaw)
	want, _ := crcReader.U32()
	if got := binio.Checksum(body); got != want {
		return nil, 0, 0, fmt.Errorf("snapshot: checksum mismatch: expected 0x%08x, got 0x%08x", want, got)
	}

	r := binio.NewReader(body)
	magic := make([]byte, 4)
	for i := range magic {
		b, err := r.U8()
		if err != nil {
			return nil, 0, 0, fmt.Errorf("snapshot: %w", err)
		}
		magic[i] = b
	}
	if [4]byte(magic) != snapshotMagic {
		return nil, 0, 0, errors.New("snapshot: invalid magic")
	}
	if v, err := r.U16(); err != nil || v != snapshotVersion {
		return nil, 0, 0, fmt.Errorf("snapshot: unsupported version")
	}
	metricRaw, err := r.U8()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: %w", err)
	}
	if _, err := r.U8(); err != nil { // reserved
		return nil, 0, 0, fmt.Errorf("snapshot: %w", err)
	}
	dimRaw, err := r.U32()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: %w", err)
	}
	seq, err := r.U64()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: %w", err)
	}

	frames, detached, err := framestore.DecodeSnapshot(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot frames: %w", err)
	}
	facts, err := factstore.DecodeSnapshot(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot facts: %w", err)
	}
	text, err := lexical.DecodeSnapshot(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot text: %w", err)
	}
	vectors, err := vindex.DecodeSnapshot(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot vectors: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, 0, 0, fmt.Errorf("snapshot: %d trailing bytes", r.Remaining())
	}

	var batch [][]float32
	if embBytes != nil {
		if batch, err = vcodec.Decode(embBytes); err != nil {
			return nil, 0, 0, fmt.Errorf("embedding payload: %w", err)
		}
	} else if len(detached) > 0 {
		return nil, 0, 0, fmt.Errorf("embedding payload missing: %d frames expect embeddings", len(detached))
	}
	if err := frames.AttachEmbeddings(detached, batch); err != nil {
		return nil, 0, 0, err
	}

	// The surrogate index is derived: rebuild it from surrogate frames.
	sur := surrogate.NewIndex()
	for _, m := range frames.Metas() {
		if m.Kind == surrogate.Kind {
			sur = sur.WithFrame(&frame.Frame{ID: m.ID, Kind: m.Kind, Metadata: m.Metadata})
		}
	}

	return &storeState{
		frames:  frames,
		facts:   facts,
		text:    text,
		vectors: vectors,
		sur:     sur,
		seq:     seq,
	}, int(dimRaw), vindex.Metric(metricRaw), nil
}

// Stats summarizes the committed state.
type Stats struct {
	Frames        int
	LiveFrames    int
	Facts         int
	TextDocuments int
	Vectors       int
	CommitSeq     uint64
	Dimension     int
	Metric        vindex.Metric
}

// Stats returns counts over the current committed state.
func (s *Store) Stats() Stats {
	state := s.state.Load()
	live := 0
	for _, m := range state.frames.Metas() {
		if m.Status == frame.StatusLive {
			live++
		}
	}
	return Stats{
		Frames:        state.frames.Len(),
		LiveFrames:    live,
		Facts:         state.facts.Len(),
		TextDocuments: state.text.Len(),
		Vectors:       state.vectors.Len(),
		CommitSeq:     state.seq,
		Dimension:     s.dimension,
		Metric:        s.metric,
	}
}

// WALStats describes the commit journal.
type WALStats struct {
	Path      string
	SizeBytes int64
	Records   int
	LastSeq   uint64
}

// WALStats returns the journal's current shape.
func (s *Store) WALStats() WALStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.journal.Stats()
	return WALStats{
		Path:      st.Path,
		SizeBytes: st.SizeBytes,
		Records:   st.Records,
		LastSeq:   st.LastSeq,
	}
}

// VerifyReport lists what Verify checked and every problem it found.
// An empty Problems slice means the store passed.
type VerifyReport struct {
	SnapshotChecked   bool
	EmbeddingsChecked bool
	JournalCommits    int
	FramesDecoded     int
	Problems          []string
}

// Verify re-reads the persisted files and checks their integrity. Deep mode
// additionally decompresses every frame's content. Verify reports problems;
// it never repairs them.
func (s *Store) Verify(deep bool) (VerifyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report VerifyReport
	if s.closed.Load() {
		return report, ErrClosed
	}

	snapBytes, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		return report, fmt.Errorf("verify: %w", err)
	}
	embBytes, err := os.ReadFile(filepath.Join(s.dir, embeddingsFile))
	if err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("verify: %w", err)
	}

	state, _, _, err := decodeCheckpoint(snapBytes, embBytes)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report, nil
	}
	report.SnapshotChecked = true
	report.EmbeddingsChecked = true

	err = s.journal.Replay(func(seq uint64, payload []byte) error {
		next, err := applyCommitPayload(state, payload, seq)
		if err != nil {
			report.Problems = append(report.Problems, err.Error())
			return nil
		}
		state = next
		report.JournalCommits++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("verify journal: %w", err)
	}

	if deep {
		for _, m := range state.frames.Metas() {
			if _, err := state.frames.Content(m.ID); err != nil {
				report.Problems = append(report.Problems, fmt.Sprintf("frame %d: %v", m.ID, err))
				continue
			}
			report.FramesDecoded++
		}
	}
	return report, nil
}

// Archive checkpoints the store and uploads the snapshot and embedding
// payload to dst under checkpoints/<seq>/.
func (s *Store) Archive(ctx context.Context, dst blobstore.Store) error {
	if err := s.Checkpoint(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.state.Load().seq

	for _, name := range []string{snapshotFile, embeddingsFile} {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		blobName := fmt.Sprintf("checkpoints/%d/%s", seq, name)
		err = dst.Put(ctx, blobName, data)
		s.logger.LogArchive(ctx, seq, blobName, err)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	return nil
}

// Close checkpoints, closes the journal, and releases the lease. The store
// is unusable afterwards; open sessions fail on their next call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	checkpointErr := s.checkpointLocked(context.Background())
	closeErr := s.journal.Close()
	s.releaseLease()
	s.closed.Store(true)

	if checkpointErr != nil {
		return checkpointErr
	}
	return closeErr
}

var _ io.Closer = (*Store)(nil)
