package qdrant

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/sevigo/policyrag/schema"
)

const (
	defaultContentKey    = "content"
	defaultGRPCPort      = 6334
	defaultBatchSize     = 100
	defaultRetryAttempts = 3
	maxBatchSize         = 1000
)

type options struct {
	alias         string
	endpoint      url.URL
	apiKey        string
	contentKey    string
	logger        *slog.Logger
	useTLS        bool
	retryAttempts int
	batchSize     int
	keepPrevious  bool
}

type Option func(*options)

// WithCollectionName sets the alias queries go through. Each ReplaceAll
// writes a fresh collection named <alias>_<generation> and repoints it.
func WithCollectionName(alias string) Option {
	return func(opts *options) {
		opts.alias = strings.TrimSpace(alias)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithURL sets the gRPC endpoint. A missing port means 6334 and an https
// scheme turns TLS on.
func WithURL(endpoint url.URL) Option {
	return func(opts *options) {
		opts.endpoint = endpoint
	}
}

func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = strings.TrimSpace(apiKey)
	}
}

// WithContentKey sets the payload key holding chunk text.
func WithContentKey(contentKey string) Option {
	return func(opts *options) {
		if contentKey != "" {
			opts.contentKey = strings.TrimSpace(contentKey)
		}
	}
}

func WithTLS(useTLS bool) Option {
	return func(opts *options) {
		opts.useTLS = useTLS
	}
}

// WithRetryAttempts sets how often a failed upsert batch is retried.
func WithRetryAttempts(attempts int) Option {
	return func(opts *options) {
		if attempts >= 0 {
			opts.retryAttempts = attempts
		}
	}
}

// WithBatchSize sets the number of points per upsert request, capped at 1000.
func WithBatchSize(size int) Option {
	return func(opts *options) {
		opts.batchSize = min(size, maxBatchSize)
	}
}

// WithKeepPrevious leaves the replaced collection in place after the alias
// moves, so an operator can point the alias back to it.
func WithKeepPrevious(keep bool) Option {
	return func(opts *options) {
		opts.keepPrevious = keep
	}
}

func parseOptions(opts ...Option) (options, error) {
	o := options{
		logger:        slog.Default(),
		contentKey:    defaultContentKey,
		retryAttempts: defaultRetryAttempts,
		batchSize:     defaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.endpoint.Host == "" {
		o.endpoint = url.URL{Scheme: "http", Host: "localhost:" + strconv.Itoa(defaultGRPCPort)}
	}
	if o.endpoint.Scheme == "https" {
		o.useTLS = true
	}

	switch {
	case o.alias == "":
		return o, fmt.Errorf("%w: qdrant collection name is required", schema.ErrConfig)
	case o.batchSize < 1:
		return o, fmt.Errorf("%w: qdrant batch size must be positive, got %d", schema.ErrConfig, o.batchSize)
	case o.endpoint.Scheme != "http" && o.endpoint.Scheme != "https":
		return o, fmt.Errorf("%w: qdrant URL scheme must be http or https, got %q", schema.ErrConfig, o.endpoint.Scheme)
	}
	return o, nil
}

// clientConfig turns the endpoint into the host and port the gRPC client
// dials.
func (o options) clientConfig() (*qdrant.Config, error) {
	port := defaultGRPCPort
	if p := o.endpoint.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: invalid qdrant port %q", schema.ErrConfig, p)
		}
		port = n
	}
	return &qdrant.Config{
		Host:   o.endpoint.Hostname(),
		Port:   port,
		APIKey: o.apiKey,
		UseTLS: o.useTLS,
	}, nil
}

// LogValue omits the API key.
func (o options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("alias", o.alias),
		slog.String("endpoint", o.endpoint.Host),
		slog.String("content_key", o.contentKey),
		slog.Bool("tls", o.useTLS),
		slog.Bool("api_key", o.apiKey != ""),
		slog.Int("batch_size", o.batchSize),
	)
}
