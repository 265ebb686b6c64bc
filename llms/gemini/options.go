package gemini

import (
	"log/slog"
)

type options struct {
	model          string
	embeddingModel string
	dimensions     int
	apiKey         string
	logger         *slog.Logger
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		model:          "gemini-2.5-flash",
		embeddingModel: "text-embedding-004",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel sets the generation model name.
func WithModel(model string) Option {
	return func(opts *options) {
		if model != "" {
			opts.model = model
		}
	}
}

// WithEmbeddingModel sets the model used by EmbedDocuments and EmbedQuery.
func WithEmbeddingModel(model string) Option {
	return func(opts *options) {
		if model != "" {
			opts.embeddingModel = model
		}
	}
}

// WithDimensions truncates embeddings to dim values on models that support
// it.
func WithDimensions(dim int) Option {
	return func(opts *options) {
		opts.dimensions = dim
	}
}

func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}
