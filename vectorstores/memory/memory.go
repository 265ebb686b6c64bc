// Package memory implements the baseline vector store: a brute-force cosine
// scan over an in-process chunk snapshot. ReplaceAll builds a new snapshot
// and publishes it with a single pointer swap, so queries always see either
// the previous or the new chunk set in full.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

type record struct {
	chunk schema.Chunk
	norm  float64
}

type snapshot struct {
	records   []record
	dimension int
	loadedAt  time.Time
}

type Store struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
	logger  *slog.Logger
}

var (
	_ vectorstores.VectorStore = (*Store)(nil)
	_ vectorstores.Readiness   = (*Store)(nil)
)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memory_store")
	return s
}

// ReplaceAll installs chunks as the new corpus. The input is copied; later
// changes by the caller are not visible to the store.
func (s *Store) ReplaceAll(ctx context.Context, chunks []schema.Chunk) error {
	dim, err := vectorstores.CorpusDimension(chunks)
	if err != nil {
		return err
	}

	records := make([]record, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		records[i] = record{chunk: cloneChunk(c), norm: vectorstores.Norm(c.Embedding)}
	}

	next := &snapshot{records: records, dimension: dim, loadedAt: time.Now()}

	s.writeMu.Lock()
	previous := s.current.Swap(next)
	s.writeMu.Unlock()

	prevCount := 0
	if previous != nil {
		prevCount = len(previous.records)
	}
	s.logger.InfoContext(ctx, "Replaced chunk set",
		"count", len(records),
		"previous_count", prevCount,
		"dimension", dim,
	)
	return nil
}

// NearestNeighbors scores every embedded chunk against query and returns the
// top k by descending cosine similarity. Equal scores keep insertion order.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int, options ...vectorstores.Option) ([]schema.SearchHit, error) {
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}

	snap := s.current.Load()
	if snap == nil || len(snap.records) == 0 {
		return []schema.SearchHit{}, nil
	}
	if snap.dimension > 0 && len(query) != snap.dimension {
		return nil, errDimension(len(query), snap.dimension)
	}

	opts := vectorstores.ParseOptions(options...)
	queryNorm := vectorstores.Norm(query)

	hits := make([]schema.SearchHit, 0, len(snap.records))
	for _, r := range snap.records {
		if len(r.chunk.Embedding) == 0 {
			continue
		}
		if !vectorstores.MatchesFilter(r.chunk.Metadata, opts.Filter) {
			continue
		}
		score := vectorstores.CosineWithNorms(query, queryNorm, r.chunk.Embedding, r.norm)
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, schema.SearchHit{
			Content:  r.chunk.Content,
			Metadata: maps.Clone(r.chunk.Metadata),
			Score:    score,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(hits, func(a, b schema.SearchHit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	s.logger.DebugContext(ctx, "Nearest neighbor scan",
		"corpus", len(snap.records),
		"hits", len(hits),
		"k", k,
		"filter", opts.Filter,
	)
	return hits, nil
}

// Ready reports whether a corpus has been loaded.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// Len returns the number of chunks in the current snapshot.
func (s *Store) Len() int {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.records)
}

// Dimension returns the embedding dimension of the current corpus.
func (s *Store) Dimension() int {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return snap.dimension
}

// LoadedAt returns when the current snapshot was installed.
func (s *Store) LoadedAt() time.Time {
	snap := s.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}

func cloneChunk(c schema.Chunk) schema.Chunk {
	return schema.Chunk{
		ID:        c.ID,
		Content:   c.Content,
		Metadata:  maps.Clone(c.Metadata),
		Embedding: slices.Clone(c.Embedding),
	}
}

func errDimension(got, want int) error {
	return fmt.Errorf("%w: query has %d dimensions, corpus has %d", vectorstores.ErrDimensionMismatch, got, want)
}
