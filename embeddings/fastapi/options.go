package fastapi

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultPath is the batch endpoint served by the embedding server.
const DefaultPath = "/embed"

type options struct {
	path       string
	httpClient *http.Client
	logger     *slog.Logger
	task       string
	apiKey     string
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		path:       DefaultPath,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
		task:       "Given a question about company policy, retrieve passages that answer it",
	}
}

// WithPath overrides the endpoint path joined to the server URL.
func WithPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.path = path
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTask overrides the instruction sent alongside the texts.
func WithTask(task string) Option {
	return func(o *options) {
		if task != "" {
			o.task = task
		}
	}
}

// WithAPIKey sets the key sent in the X-Api-Key header.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}
