package framestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/waxlabs/waxgo/frame"
)

// Compressed content layout: [rawLen uint32][blob]. A rawLen prefix is kept
// even for zstd so both codecs share one framing and decode can size the
// destination buffer up front.
const contentHeaderSize = 4

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encodeContent encodes raw content for storage at rest.
func encodeContent(c frame.Compression, raw []byte) ([]byte, error) {
	switch c {
	case frame.CompressionNone:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil

	case frame.CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		out := make([]byte, contentHeaderSize, contentHeaderSize+len(raw)/2)
		binary.LittleEndian.PutUint32(out, uint32(len(raw)))
		return enc.EncodeAll(raw, out), nil

	case frame.CompressionLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		out := make([]byte, contentHeaderSize+bound)
		binary.LittleEndian.PutUint32(out, uint32(len(raw)))
		n, err := lz4.CompressBlock(raw, out[contentHeaderSize:], nil)
		if err != nil {
			return nil, fmt.Errorf("framestore: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			// Incompressible input: store the raw bytes with
			// rawLen == blobLen as the marker. Compressed blobs are always
			// strictly shorter, so decode can tell the two apart.
			out = append(out[:contentHeaderSize], raw...)
			return out, nil
		}
		return out[:contentHeaderSize+n], nil

	default:
		return nil, fmt.Errorf("framestore: unknown compression %d", c)
	}
}

// decodeContent decodes content stored by encodeContent.
func decodeContent(c frame.Compression, enc []byte) ([]byte, error) {
	switch c {
	case frame.CompressionNone:
		out := make([]byte, len(enc))
		copy(out, enc)
		return out, nil

	case frame.CompressionZstd:
		if len(enc) < contentHeaderSize {
			return nil, fmt.Errorf("framestore: zstd content too small")
		}
		rawLen := binary.LittleEndian.Uint32(enc)
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(enc[contentHeaderSize:], make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("framestore: zstd decompress: %w", err)
		}
		if uint32(len(out)) != rawLen {
			return nil, fmt.Errorf("framestore: zstd decompressed size mismatch: expected %d, got %d", rawLen, len(out))
		}
		return out, nil

	case frame.CompressionLZ4:
		if len(enc) < contentHeaderSize {
			return nil, fmt.Errorf("framestore: lz4 content too small")
		}
		rawLen := binary.LittleEndian.Uint32(enc)
		blob := enc[contentHeaderSize:]
		if int(rawLen) == len(blob) {
			// Stored raw (incompressible marker).
			out := make([]byte, len(blob))
			copy(out, blob)
			return out, nil
		}
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(blob, out)
		if err != nil {
			return nil, fmt.Errorf("framestore: lz4 decompress: %w", err)
		}
		if uint32(n) != rawLen {
			return nil, fmt.Errorf("framestore: lz4 decompressed size mismatch: expected %d, got %d", rawLen, n)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("framestore: unknown compression %d", c)
	}
}
