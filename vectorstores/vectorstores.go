package vectorstores

import (
	"context"
	"errors"
	"fmt"

	"github.com/sevigo/policyrag/schema"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidK           = fmt.Errorf("%w: k must be at least 1", schema.ErrConfig)
	ErrDimensionMismatch  = fmt.Errorf("%w: vector dimension mismatch", schema.ErrConsistency)
)

// VectorStore holds the chunk set of one corpus. ReplaceAll swaps the whole
// set; readers never observe a partially replaced state.
type VectorStore interface {
	ReplaceAll(ctx context.Context, chunks []schema.Chunk) error
	NearestNeighbors(ctx context.Context, query []float32, k int, options ...Option) ([]schema.SearchHit, error)
}

// Readiness is implemented by stores that can report whether a corpus has
// been loaded. Stores without it are assumed ready.
type Readiness interface {
	Ready() bool
}

// IsReady reports whether store is ready to serve queries.
func IsReady(store VectorStore) bool {
	if store == nil {
		return false
	}
	if r, ok := store.(Readiness); ok {
		return r.Ready()
	}
	return true
}

type Option func(*Options)

type Options struct {
	ScoreThreshold *float32
	Filter         *schema.Filter
}

// WithScoreThreshold drops hits scoring below threshold.
func WithScoreThreshold(threshold float32) Option {
	return func(opts *Options) {
		opts.ScoreThreshold = &threshold
	}
}

// WithFilter restricts results to chunks whose metadata at path equals value.
func WithFilter(path string, value any) Option {
	return func(opts *Options) {
		opts.Filter = &schema.Filter{Path: path, Value: value}
	}
}

// WithOptionalFilter applies f when it is non-nil.
func WithOptionalFilter(f *schema.Filter) Option {
	return func(opts *Options) {
		if f != nil {
			opts.Filter = f
		}
	}
}

func ParseOptions(options ...Option) Options {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// ValidateK rejects non-positive result counts.
func ValidateK(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	return nil
}

// CorpusDimension returns the embedding dimension shared by all embedded
// chunks, or 0 when none is embedded.
func CorpusDimension(chunks []schema.Chunk) (int, error) {
	dim := 0
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(c.Embedding)
			continue
		}
		if len(c.Embedding) != dim {
			return 0, fmt.Errorf("%w: chunk %d (%s) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, c.ID, len(c.Embedding), dim)
		}
	}
	return dim, nil
}
