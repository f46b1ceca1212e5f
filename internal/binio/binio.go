// Package binio provides little-endian binary encoding helpers shared by the
// snapshot, WAL, and embedding payload formats.
package binio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// Writer appends little-endian primitives to a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// U8 appends a single byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// I64 appends a little-endian int64.
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// F32 appends a little-endian IEEE-754 float32.
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// Raw appends bytes verbatim.
func (w *Writer) Raw(p []byte) { w.buf = append(w.buf, p...) }

// Bytes32 appends a uint32 length prefix followed by the bytes.
func (w *Writer) Bytes32(p []byte) {
	w.U32(uint32(len(p)))
	w.Raw(p)
}

// String appends a uint32 length prefix followed by the string bytes.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// F32Slice appends a uint32 count followed by the raw float32 values.
func (w *Writer) F32Slice(vec []float32) {
	w.U32(uint32(len(vec)))
	for _, v := range vec {
		w.F32(v)
	}
}

// U64Slice appends a uint32 count followed by the raw uint64 values.
func (w *Writer) U64Slice(s []uint64) {
	w.U32(uint32(len(s)))
	for _, v := range s {
		w.U64(v)
	}
}

// ErrShortBuffer is returned when a read runs past the end of the input.
var ErrShortBuffer = fmt.Errorf("binio: short buffer")

// Reader consumes little-endian primitives from a byte slice.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p, nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// I64 reads a little-endian int64.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// F32 reads a little-endian IEEE-754 float32.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

// Bytes32 reads a uint32 length prefix followed by that many bytes. The
// returned slice is copied so it stays valid after the backing buffer is
// recycled.
func (r *Reader) Bytes32() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	p, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// String reads a uint32 length prefix followed by the string bytes.
func (r *Reader) String() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	p, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// F32Slice reads a uint32 count followed by that many float32 values.
func (r *Reader) F32Slice() ([]float32, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]float32, n)
	for i := range out {
		if out[i], err = r.F32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// U64Slice reads a uint32 count followed by that many uint64 values.
func (r *Reader) U64Slice() ([]uint64, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]uint64, n)
	for i := range out {
		if out[i], err = r.U64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Checksum computes the CRC32 (IEEE) of data. Fast, hardware-accelerated on
// modern CPUs, and sufficient for detecting accidental corruption; not a
// tamper-evidence mechanism.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
