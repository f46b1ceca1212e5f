// Package vcodec implements the binary codec for persisted embedding batches.
//
// A batch is an ordered sequence of float32 vectors serialized to a
// self-describing little-endian stream:
//
//	magic   [4]byte  'W' 'X' 'E' 'B'
//	version uint16
//	flags   uint16   (reserved, must be zero)
//	dim     uint32   per-vector dimensionality
//	count   uint64   number of vectors
//	payload count*dim float32
//	crc32   uint32   IEEE, over header+payload
//
// Decoding is strict: a stream shorter than its header demands fails with
// "invalid embedding batch payload", a stream with extra bytes fails with
// "trailing bytes", and both checks run before any vector is materialized.
package vcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/waxlabs/waxgo/internal/binio"
)

var magic = [4]byte{'W', 'X', 'E', 'B'}

const (
	version    = 1
	headerSize = 20
	footerSize = 4 // trailing crc32
)

// EncodingError indicates malformed write-time input, such as a ragged batch.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("vcodec: encoding error: %s", e.Reason)
}

// DecodingError indicates a corrupt or truncated persisted payload. Reason
// identifies which check failed.
type DecodingError struct {
	Reason string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("vcodec: decoding error: %s", e.Reason)
}

// Encode serializes an ordered batch of vectors. All vectors must share the
// length of the first vector; the empty batch is valid and produces a minimal
// stream.
func Encode(batch [][]float32) ([]byte, error) {
	dim := 0
	if len(batch) > 0 {
		dim = len(batch[0])
		if dim == 0 {
			return nil, &EncodingError{Reason: "zero-length vector in batch"}
		}
	}
	for i, vec := range batch {
		if len(vec) != dim {
			return nil, &EncodingError{
				Reason: fmt.Sprintf("ragged batch: vector %d has %d elements, expected %d", i, len(vec), dim),
			}
		}
	}

	w := binio.NewWriter(headerSize + len(batch)*dim*4 + footerSize)
	w.Raw(magic[:])
	w.U16(version)
	w.U16(0) // flags
	w.U32(uint32(dim))
	w.U64(uint64(len(batch)))
	for _, vec := range batch {
		for _, v := range vec {
			w.F32(v)
		}
	}
	w.U32(binio.Checksum(w.Bytes()))
	return w.Bytes(), nil
}

// Decode deserializes a batch previously produced by Encode. A corrupt
// payload never yields a partially decoded result.
func Decode(data []byte) ([][]float32, error) {
	if len(data) < headerSize+footerSize {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: stream shorter than header"}
	}
	if [4]byte(data[:4]) != magic {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: bad magic"}
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != version {
		return nil, &DecodingError{Reason: fmt.Sprintf("invalid embedding batch payload: unsupported version %d", v)}
	}
	if flags := binary.LittleEndian.Uint16(data[6:8]); flags != 0 {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: reserved flags set"}
	}

	dim := uint64(binary.LittleEndian.Uint32(data[8:12]))
	count := binary.LittleEndian.Uint64(data[12:20])
	if count > 0 && dim == 0 {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: zero dimension with nonzero vector count"}
	}

	payloadLen, ok := mulOverflow(count, dim*4)
	if !ok || payloadLen > math.MaxInt64-headerSize-footerSize {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: implied length overflows"}
	}
	total := headerSize + int(payloadLen) + footerSize
	if len(data) < total {
		return nil, &DecodingError{Reason: "invalid embedding batch payload: stream shorter than header demands"}
	}
	if len(data) > total {
		return nil, &DecodingError{Reason: fmt.Sprintf("trailing bytes: %d past end of batch", len(data)-total)}
	}

	want := binary.LittleEndian.Uint32(data[total-footerSize:])
	if got := binio.Checksum(data[:total-footerSize]); got != want {
		return nil, &DecodingError{Reason: fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", want, got)}
	}

	batch := make([][]float32, count)
	off := headerSize
	for i := range batch {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		batch[i] = vec
	}
	return batch, nil
}

func mulOverflow(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}
