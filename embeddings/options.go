package embeddings

import (
	"log/slog"

	"golang.org/x/time/rate"
)

type options struct {
	StripNewLines  bool
	BatchSize      int
	MaxConcurrency int
	Dimension      int
	Limiter        *rate.Limiter
	Logger         *slog.Logger
}

type Option func(*options)

func WithBatchSize(size int) Option {
	return func(opts *options) {
		opts.BatchSize = size
	}
}

func WithStripNewLines(strip bool) Option {
	return func(opts *options) {
		opts.StripNewLines = strip
	}
}

// WithMaxConcurrency bounds the number of batch requests in flight.
func WithMaxConcurrency(n int) Option {
	return func(opts *options) {
		opts.MaxConcurrency = n
	}
}

// WithDimension declares the expected dimension up front instead of
// discovering it from the first call.
func WithDimension(dim int) Option {
	return func(opts *options) {
		opts.Dimension = dim
	}
}

// WithRateLimiter throttles calls to the provider.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(opts *options) {
		opts.Limiter = limiter
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.Logger = logger
		}
	}
}
