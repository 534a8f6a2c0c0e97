package scanngo

import (
	"log/slog"

	"github.com/hupe1980/scanngo/codec"
	"github.com/hupe1980/scanngo/resource"
	"github.com/hupe1980/scanngo/retrieval"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	controller       *resource.Controller
	engineOptFns     []func(o *retrieval.Options)
}

// Option configures ScaNN constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for the artifact manifest.
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

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
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

// WithResourceController bounds background training and upload concurrency
// and throttles upload IO. Pass nil for no limits.
func WithResourceController(ctrl *resource.Controller) Option {
	return func(o *options) {
		o.controller = ctrl
	}
}

// WithNProbe configures the number of partitioner leaves probed per query.
func WithNProbe(nProbe int) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, func(eo *retrieval.Options) {
			eo.NProbe = nProbe
		})
	}
}

// WithNumNeighbors configures the fixed k used by RetrieveChunks.
func WithNumNeighbors(k int) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, func(eo *retrieval.Options) {
			eo.NumNeighbors = k
		})
	}
}

// WithEmbedder configures the token-chunk embedder used by RetrieveChunks.
func WithEmbedder(e retrieval.Embedder) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, func(eo *retrieval.Options) {
			eo.Embedder = e
		})
	}
}

// WithTokenSequences configures the per-datapoint token sequences returned
// by RetrieveChunks. Must cover every dataset row.
func WithTokenSequences(seqs [][]uint32) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, func(eo *retrieval.Options) {
			eo.TokenSequences = seqs
		})
	}
}

// WithEngineOptions appends raw engine option functions. Escape hatch for
// options without a dedicated wrapper.
func WithEngineOptions(fns ...func(o *retrieval.Options)) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, fns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
