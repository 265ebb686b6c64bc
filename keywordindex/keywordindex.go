// Package keywordindex wraps a lexical search backend behind a runtime
// switch. A disabled index fails fast instead of reaching the backend.
package keywordindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sevigo/policyrag/schema"
)

// DefaultField is the indexed chunk text.
const DefaultField = "content"

var (
	ErrDisabled     = fmt.Errorf("%w: keyword search is disabled", schema.ErrFeatureDisabled)
	ErrInvalidLimit = fmt.Errorf("%w: keyword search limit must be at least 1", schema.ErrConfig)
	ErrNoBackend    = fmt.Errorf("%w: keyword search has no backend", schema.ErrConfig)
)

// Backend runs a text match over fields, ANDed with an optional equality
// filter, and returns at most limit hits with larger scores first.
type Backend interface {
	Search(ctx context.Context, query string, fields []string, limit int, filter *schema.Filter) ([]schema.SearchHit, error)
}

// Writer is implemented by backends that can be loaded during ingestion.
type Writer interface {
	ReplaceAll(ctx context.Context, chunks []schema.Chunk) error
}

type Index struct {
	backend Backend
	enabled bool
	fields  []string
	logger  *slog.Logger
}

type Option func(*Index)

func WithEnabled(enabled bool) Option {
	return func(i *Index) {
		i.enabled = enabled
	}
}

// WithDefaultFields sets the fields searched when a call passes none.
func WithDefaultFields(fields ...string) Option {
	return func(i *Index) {
		if len(fields) > 0 {
			i.fields = fields
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New returns an enabled index over backend. A nil backend is allowed only
// for a disabled index.
func New(backend Backend, opts ...Option) (*Index, error) {
	i := &Index{
		backend: backend,
		enabled: true,
		fields:  []string{DefaultField},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.enabled && backend == nil {
		return nil, ErrNoBackend
	}
	i.logger = i.logger.With("component", "keyword_index")
	return i, nil
}

// Disabled returns an index that rejects every search.
func Disabled() *Index {
	i, _ := New(nil, WithEnabled(false))
	return i
}

func (i *Index) Enabled() bool {
	return i != nil && i.enabled
}

// Search matches query against fields. A blank query returns no hits.
func (i *Index) Search(ctx context.Context, query string, fields []string, limit int, filter *schema.Filter) ([]schema.SearchHit, error) {
	if !i.Enabled() {
		return nil, ErrDisabled
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if strings.TrimSpace(query) == "" {
		return []schema.SearchHit{}, nil
	}
	if len(fields) == 0 {
		fields = i.fields
	}

	start := time.Now()
	hits, err := i.backend.Search(ctx, query, fields, limit, filter)
	if err != nil {
		i.logger.WarnContext(ctx, "Keyword search failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	i.logger.DebugContext(ctx, "Keyword search",
		"hits", len(hits),
		"limit", limit,
		"fields", fields,
		"filter", filter,
		"duration", time.Since(start),
	)
	return hits, nil
}
