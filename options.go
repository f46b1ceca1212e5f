package waxgo

import (
	"log/slog"
	"time"

	"github.com/waxlabs/waxgo/frame"
	"github.com/waxlabs/waxgo/internal/wal"
	"github.com/waxlabs/waxgo/vindex"
)

type options struct {
	dimension          int
	metric             vindex.Metric
	defaultCompression frame.Compression
	walOptions         []func(*wal.Options)
	checkpointCommits  int   // checkpoint after N commits, 0 disables
	checkpointBytes    int64 // checkpoint when the journal exceeds N bytes, 0 disables
	metricsCollector   MetricsCollector
	logger             *Logger
	nowMs              func() int64
}

// Option configures store creation and open behavior.
type Option func(*options)

// WithDimension sets the embedding dimensionality enforced for every frame
// embedding and indexed vector. Zero disables the check. Only honored at
// Create; Open reads the persisted value.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithMetric sets the vector index metric. Only honored at Create.
func WithMetric(m vindex.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithDefaultCompression sets the at-rest content encoding used when a Put
// does not choose one explicitly.
func WithDefaultCompression(c frame.Compression) Option {
	return func(o *options) {
		o.defaultCompression = c
	}
}

// WithWAL forwards options to the commit journal, e.g. to enable record
// compression or relax per-commit fsync:
//
//	waxgo.WithWAL(func(o *wal.Options) {
//	    o.Compress = true
//	    o.SyncOnAppend = false
//	})
func WithWAL(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithCheckpointPolicy sets automatic checkpoint thresholds: after commits
// committed transactions, or once the journal exceeds bytes. Zero disables
// that trigger. A checkpoint always happens on Close regardless.
func WithCheckpointPolicy(commits int, bytes int64) Option {
	return func(o *options) {
		o.checkpointCommits = commits
		o.checkpointBytes = bytes
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// withNowFunc overrides the wall clock. Test hook.
func withNowFunc(nowMs func() int64) Option {
	return func(o *options) {
		o.nowMs = nowMs
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric:             vindex.MetricCosine,
		defaultCompression: frame.CompressionNone,
		checkpointCommits:  1024,
		checkpointBytes:    64 << 20,
		metricsCollector:   NoopMetricsCollector{},
		logger:             NoopLogger(),
		nowMs:              func() int64 { return time.Now().UnixMilli() },
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Mode selects how a session participates in the single-writer protocol.
type Mode uint8

const (
	// ReadOnly opens a reader over the committed state at open time. Any
	// number of read-only sessions may be open concurrently.
	ReadOnly Mode = iota
	// ReadWriteWait blocks until the writer slot is free, then holds it.
	ReadWriteWait
	// ReadWriteFail attempts to take the writer slot immediately and fails
	// with ErrWriterBusy if it is held. It never retries internally.
	ReadWriteFail
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWriteWait:
		return "read-write (wait)"
	case ReadWriteFail:
		return "read-write (fail)"
	default:
		return "unknown"
	}
}

// Config selects a session's mode and which optional subsystems its commits
// touch. Disabling a subsystem is a cost toggle only: state left by sessions
// that had it enabled stays intact and visible to them.
type Config struct {
	Mode Mode

	// EnableTextSearch activates IndexText/RemoveText/SearchText.
	EnableTextSearch bool

	// EnableVectorSearch activates IndexVector/RemoveVector/SearchVector.
	EnableVectorSearch bool

	// EnableStructuredMemory activates the entity/fact operations.
	EnableStructuredMemory bool
}

// ReadWriteConfig is a convenience Config with every subsystem enabled,
// waiting for the writer slot.
func ReadWriteConfig() Config {
	return Config{
		Mode:                   ReadWriteWait,
		EnableTextSearch:       true,
		EnableVectorSearch:     true,
		EnableStructuredMemory: true,
	}
}

// ReadOnlyConfig is a convenience Config for readers.
func ReadOnlyConfig() Config {
	return Config{
		Mode:                   ReadOnly,
		EnableTextSearch:       true,
		EnableVectorSearch:     true,
		EnableStructuredMemory: true,
	}
}
