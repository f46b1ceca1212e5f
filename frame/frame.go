// Package frame defines the atomic unit of storage: a content frame with
// optional embedding, ordered metadata, and a tombstone-based lifecycle.
package frame

// Role classifies what produced a frame.
type Role uint8

const (
	// RoleContent marks a frame holding caller-supplied content.
	RoleContent Role = iota
	// RoleChunk marks text-chunking output derived from a content frame.
	RoleChunk
	// RoleSystem marks store-internal records such as surrogates.
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleContent:
		return "content"
	case RoleChunk:
		return "chunk"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Compression describes how frame content is encoded at rest.
type Compression uint8

const (
	// CompressionNone stores content bytes as-is.
	CompressionNone Compression = iota
	// CompressionZstd stores content zstd-compressed.
	CompressionZstd
	// CompressionLZ4 stores content lz4-compressed.
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Valid reports whether c names a known compression scheme.
func (c Compression) Valid() bool {
	return c == CompressionNone || c == CompressionZstd || c == CompressionLZ4
}

// Status is the lifecycle state of a committed frame.
type Status uint8

const (
	// StatusLive is the initial state of every committed frame.
	StatusLive Status = iota
	// StatusDeleted is terminal. The frame record is retained as a tombstone.
	StatusDeleted
	// StatusSuperseded is terminal for the superseded frame; the superseding
	// frame is itself a new live frame.
	StatusSuperseded
)

func (s Status) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusDeleted:
		return "deleted"
	case StatusSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Frame is a committed record. ID, Content and TimestampMs are immutable once
// committed; only lifecycle state changes, and that is tracked outside the
// record itself.
type Frame struct {
	ID          uint64
	Role        Role
	Kind        string
	Metadata    Metadata
	Content     []byte // encoded per Compression
	Embedding   []float32
	Compression Compression
	TimestampMs int64
}

// Meta is the metadata-only view of a frame, enriched with its current
// lifecycle state.
type Meta struct {
	ID            uint64
	Role          Role
	Kind          string
	Metadata      Metadata
	Compression   Compression
	TimestampMs   int64
	ContentLength uint64 // encoded length at rest
	HasEmbedding  bool
	Status        Status
	SupersededBy  uint64 // valid when Status == StatusSuperseded
}

// PutOptions control how a frame is written.
type PutOptions struct {
	Role        Role
	Kind        string
	Metadata    Metadata
	Embedding   []float32
	Compression Compression

	// TimestampMs is the caller-supplied timestamp. When HasTimestamp is
	// unset a zero value means the store assigns the current wall-clock
	// time; WithTimestampMs sets the flag, so an explicit epoch-0
	// timestamp is representable.
	TimestampMs  int64
	HasTimestamp bool
}

// WithKind sets the free-form kind tag.
func WithKind(kind string) func(o *PutOptions) {
	return func(o *PutOptions) { o.Kind = kind }
}

// WithRole sets the frame role.
func WithRole(role Role) func(o *PutOptions) {
	return func(o *PutOptions) { o.Role = role }
}

// WithMetadata sets the frame metadata.
func WithMetadata(md Metadata) func(o *PutOptions) {
	return func(o *PutOptions) { o.Metadata = md }
}

// WithEmbedding attaches an embedding vector. Its length must match the
// store's configured dimensionality.
func WithEmbedding(vec []float32) func(o *PutOptions) {
	return func(o *PutOptions) { o.Embedding = vec }
}

// WithCompression selects the at-rest content encoding.
func WithCompression(c Compression) func(o *PutOptions) {
	return func(o *PutOptions) { o.Compression = c }
}

// WithTimestampMs sets an explicit frame timestamp. Zero is a valid
// explicit value; without this option the store assigns the current time.
func WithTimestampMs(ms int64) func(o *PutOptions) {
	return func(o *PutOptions) {
		o.TimestampMs = ms
		o.HasTimestamp = true
	}
}
