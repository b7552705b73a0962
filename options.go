package docdex

import (
	"golang.org/x/time/rate"

	"github.com/ragkit/docdex/codec"
	"github.com/ragkit/docdex/snapshot"
)

type options struct {
	codec       codec.Codec
	logger      *Logger
	metrics     MetricsCollector
	compression snapshot.Compression
	fs          snapshot.FS
	uploadLimit *rate.Limiter
}

// Option configures Manager construction.
type Option func(*options)

// WithCodec sets the codec used for the metadata sidecar. Nil restores
// codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics sink. Nil disables metrics.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithCompression sets the index payload compression. The default is zstd.
func WithCompression(c snapshot.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSnapshotFS overrides the filesystem used by the snapshot layer. Meant
// for tests that inject write failures.
func WithSnapshotFS(fs snapshot.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithUploadLimit caps the byte rate of snapshot exports. bytesPerSecond
// <= 0 removes the cap.
func WithUploadLimit(bytesPerSecond float64, burst int) Option {
	return func(o *options) {
		if bytesPerSecond <= 0 {
			o.uploadLimit = nil
			return
		}
		o.uploadLimit = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}
