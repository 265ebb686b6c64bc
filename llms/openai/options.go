package openai

import (
	"log/slog"
	"net/http"
)

type options struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	dimensions     int
	maxRetries     int
	httpClient     *http.Client
	logger         *slog.Logger
}

// Option configures the OpenAI client.
type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		model:          "gpt-4o-mini",
		embeddingModel: "text-embedding-3-small",
		maxRetries:     2,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.embeddingModel = model
		}
	}
}

// WithDimensions requests shortened embeddings from models that support it.
func WithDimensions(dim int) Option {
	return func(o *options) {
		o.dimensions = dim
	}
}

func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
