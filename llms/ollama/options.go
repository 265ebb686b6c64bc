package ollama

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type options struct {
	model           string
	ollamaServerURL *url.URL
	httpClient      *http.Client
	logger          *slog.Logger
	pullMissing     bool
	keepAlive       time.Duration
	truncate        *bool
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel names the model used for both chat and embeddings.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithServerURL overrides OLLAMA_URL. Unparseable URLs are ignored.
func WithServerURL(rawURL string) Option {
	return func(opts *options) {
		if rawURL == "" {
			return
		}
		if parsedURL, err := url.Parse(rawURL); err == nil {
			opts.ollamaServerURL = parsedURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithPullMissing pulls the model on first use when it is not present locally.
func WithPullMissing(pull bool) Option {
	return func(opts *options) {
		opts.pullMissing = pull
	}
}

// WithKeepAlive keeps the model loaded for d after each request. Zero leaves
// the server default.
func WithKeepAlive(d time.Duration) Option {
	return func(opts *options) {
		opts.keepAlive = d
	}
}

// WithTruncate controls whether the server cuts embedding inputs that exceed
// the model context instead of failing the batch.
func WithTruncate(truncate bool) Option {
	return func(opts *options) {
		opts.truncate = &truncate
	}
}
