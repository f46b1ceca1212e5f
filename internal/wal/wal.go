// Package wal implements the commit journal: an append-only log of opaque
// commit payloads between checkpoints.
//
// Each record carries one complete commit. Records are CRC-framed and
// optionally zstd-compressed individually, so a torn tail never hides a
// fully written commit behind it. Open scans the log, truncates anything
// after the last intact record, and positions the log for append.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/waxlabs/waxgo/internal/binio"
)

var (
	logMagic      = [4]byte{'W', 'X', 'W', 'L'}
	headerVersion = uint16(1)
)

const (
	headerLen      = 16 // magic + version + flags + reserved
	flagCompressed = uint16(1)

	recordFrameLen = 12 // length u32 + seq u64
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("wal: log closed")

// Options configures the journal.
type Options struct {
	// Compress enables per-record zstd compression.
	Compress bool

	// CompressionLevel is the zstd level used when Compress is set.
	CompressionLevel zstd.EncoderLevel

	// SyncOnAppend fsyncs after every Append. Slower, but a successful
	// Append then survives power loss.
	SyncOnAppend bool

	// FirstSeq seeds the sequence counter when the log holds no records,
	// so sequence numbers stay monotone across checkpoints.
	FirstSeq uint64
}

// DefaultOptions holds the default journal configuration.
var DefaultOptions = Options{
	Compress:         false,
	CompressionLevel: zstd.SpeedDefault,
	SyncOnAppend:     true,
}

// Stats describes the journal for observability surfaces.
type Stats struct {
	Path      string
	SizeBytes int64
	Records   int
	LastSeq   uint64
}

// Log is the commit journal. It is not safe for concurrent use; the store's
// writer lock already serializes commits.
type Log struct {
	f          *os.File
	path       string
	opts       Options
	compressed bool // from the file header, which wins over opts
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	nextSeq    uint64
	records    int
	size       int64
	closed     bool
}

// Open opens or creates the journal at path, verifies the header, and scans
// for the last intact record. A torn or corrupt tail is truncated away.
func Open(path string, optFns ...func(o *Options)) (*Log, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	l := &Log{f: f, path: path, opts: opts, nextSeq: opts.FirstSeq + 1}
	if err := l.init(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}

	if info.Size() == 0 {
		l.compressed = l.opts.Compress
		if err := l.writeHeader(); err != nil {
			return err
		}
	} else {
		compressed, err := readHeader(l.f)
		if err != nil {
			return err
		}
		l.compressed = compressed
	}

	if l.compressed {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(l.opts.CompressionLevel))
		if err != nil {
			return fmt.Errorf("wal: zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return fmt.Errorf("wal: zstd decoder: %w", err)
		}
		l.encoder = enc
		l.decoder = dec
	}

	end, err := l.scan(nil)
	if err != nil {
		return err
	}

	// Drop the torn tail so appended records always follow an intact one.
	if err := l.f.Truncate(end); err != nil {
		return fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	if _, err := l.f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	l.size = end
	return nil
}

func (l *Log) writeHeader() error {
	var buf [headerLen]byte
	copy(buf[0:4], logMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	var flags uint16
	if l.compressed {
		flags |= flagCompressed
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	// buf[8:16] reserved
	if _, err := l.f.Write(buf[:]); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func readHeader(f *os.File) (compressed bool, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("wal: seek: %w", err)
	}
	var buf [headerLen]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return false, fmt.Errorf("wal: read header: %w", err)
	}
	if [4]byte(buf[0:4]) != logMagic {
		return false, errors.New("wal: invalid header magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != headerVersion {
		return false, fmt.Errorf("wal: unsupported header version %d", v)
	}
	flags := binary.LittleEndian.Uint16(buf[6:8])
	return flags&flagCompressed != 0, nil
}

// scan walks the records from the start of the log. For each intact record
// it calls fn (if non-nil) with the decompressed payload, counts it, and
// advances. It returns the offset just past the last intact record; anything
// beyond that offset is torn or corrupt.
func (l *Log) scan(fn func(seq uint64, payload []byte) error) (int64, error) {
	if _, err := l.f.Seek(headerLen, io.SeekStart); err != nil {
		return 0, fmt.Errorf("wal: seek: %w", err)
	}

	r := io.Reader(l.f)
	end := int64(headerLen)
	l.records = 0

	for {
		var frame [recordFrameLen]byte
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			// EOF here is a clean end; a partial frame is a torn tail.
			return end, nil
		}
		length := binary.LittleEndian.Uint32(frame[0:4])
		seq := binary.LittleEndian.Uint64(frame[4:12])

		stored := make([]byte, length)
		if _, err := io.ReadFull(r, stored); err != nil {
			return end, nil
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return end, nil
		}
		if binary.LittleEndian.Uint32(crcBuf[:]) != recordChecksum(seq, stored) {
			// Corrupt record: everything from here on is untrusted.
			return end, nil
		}

		payload := stored
		if l.compressed {
			decoded, err := l.decoder.DecodeAll(stored, nil)
			if err != nil {
				return end, nil
			}
			payload = decoded
		}

		if fn != nil {
			if err := fn(seq, payload); err != nil {
				return end, err
			}
		}

		end += int64(recordFrameLen + len(stored) + 4)
		l.records++
		l.nextSeq = seq + 1
	}
}

func recordChecksum(seq uint64, stored []byte) uint32 {
	w := binio.NewWriter(8 + len(stored))
	w.U64(seq)
	w.Raw(stored)
	return binio.Checksum(w.Bytes())
}

// Replay re-reads every intact record from the start and hands each payload
// to fn in sequence order. The log stays positioned for append afterwards.
func (l *Log) Replay(fn func(seq uint64, payload []byte) error) error {
	if l.closed {
		return ErrClosed
	}
	end, err := l.scan(fn)
	if err != nil {
		return err
	}
	if _, err := l.f.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	return nil
}

// Append writes one commit payload and returns its sequence number. The
// record is durable on return when SyncOnAppend is set.
func (l *Log) Append(payload []byte) (uint64, error) {
	if l.closed {
		return 0, ErrClosed
	}

	stored := payload
	if l.compressed {
		stored = l.encoder.EncodeAll(payload, nil)
	}

	seq := l.nextSeq
	w := binio.NewWriter(recordFrameLen + len(stored) + 4)
	w.U32(uint32(len(stored)))
	w.U64(seq)
	w.Raw(stored)
	w.U32(recordChecksum(seq, stored))

	if _, err := l.f.Write(w.Bytes()); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if l.opts.SyncOnAppend {
		if err := l.f.Sync(); err != nil {
			return 0, fmt.Errorf("wal: sync: %w", err)
		}
	}

	l.nextSeq = seq + 1
	l.records++
	l.size += int64(w.Len())
	return seq, nil
}

// Sync flushes the log to stable storage.
func (l *Log) Sync() error {
	if l.closed {
		return ErrClosed
	}
	return l.f.Sync()
}

// Truncate drops all records after a checkpoint has captured them. The
// sequence counter keeps advancing so replayed and checkpointed commits
// never share a sequence number.
func (l *Log) Truncate() error {
	if l.closed {
		return ErrClosed
	}
	if err := l.f.Truncate(headerLen); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := l.f.Seek(headerLen, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	l.records = 0
	l.size = headerLen
	return nil
}

// LastSeq returns the sequence number of the most recent record, or
// FirstSeq when the log is empty.
func (l *Log) LastSeq() uint64 { return l.nextSeq - 1 }

// Stats reports the journal's current shape.
func (l *Log) Stats() Stats {
	return Stats{
		Path:      l.path,
		SizeBytes: l.size,
		Records:   l.records,
		LastSeq:   l.LastSeq(),
	}
}

// Close syncs and closes the journal file.
func (l *Log) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.encoder != nil {
		l.encoder.Close()
	}
	if l.decoder != nil {
		l.decoder.Close()
	}
	syncErr := l.f.Sync()
	closeErr := l.f.Close()
	if syncErr != nil {
		return fmt.Errorf("wal: sync on close: %w", syncErr)
	}
	return closeErr
}
