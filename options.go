package ahsp

import (
	"log/slog"

	"github.com/mladen5000/strain-ahsp/blobstore"
	"github.com/mladen5000/strain-ahsp/codec"
	"github.com/mladen5000/strain-ahsp/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	cache            blobstore.BlobStore
	replace          bool
	compression      codec.Compression
	codec            codec.Codec
	resources        *resource.Controller
	noSync           bool
}

// Option configures New.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &ahsp.BasicMetricsCollector{}
//	m, _ := ahsp.New(cfg, src, ahsp.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Fetched: %d, cache hits: %d\n", stats.FetchCount, stats.FetchCacheHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := ahsp.NewJSONLogger(slog.LevelInfo)
//	m, _ := ahsp.New(cfg, src, ahsp.WithLogger(logger))
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

// WithCache replaces the local cache directory with any blob store, e.g. an
// S3 bucket shared by several hosts.
//
//	store, _ := s3.New(ctx, "genomes", "cache/")
//	m, _ := ahsp.New(cfg, src, ahsp.WithCache(store))
func WithCache(s blobstore.BlobStore) Option {
	return func(o *options) {
		o.cache = s
	}
}

// WithReplace rebuilds accessions that are already in the database and
// overwrites their signatures. By default they are skipped.
func WithReplace() Option {
	return func(o *options) {
		o.replace = true
	}
}

// WithCompression sets the compression of newly written signature records.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCodec configures the codec of cache metadata documents.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceController shares a resource controller, e.g. with the
// provider client, instead of deriving one from the Config.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithNoSync skips fsync on database commits. Only for tests and
// rebuildable bulk loads.
func WithNoSync() Option {
	return func(o *options) {
		o.noSync = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      codec.Zstd,
		codec:            codec.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
