// Package fake provides a scripted vector store for tests.
package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

// Store records ReplaceAll calls and answers NearestNeighbors from scripted
// hits. When Hits is nil, the most recently stored chunks are returned in
// insertion order with a score of 1.0.
type Store struct {
	mu sync.Mutex

	Hits     []schema.SearchHit
	Err      error
	NotReady bool

	chunks   []schema.Chunk
	replaces int
	queries  [][]float32
	options  []vectorstores.Options
}

var (
	_ vectorstores.VectorStore = (*Store)(nil)
	_ vectorstores.Readiness   = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

func (s *Store) ReplaceAll(_ context.Context, chunks []schema.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.chunks = slices.Clone(chunks)
	s.replaces++
	return nil
}

func (s *Store) NearestNeighbors(_ context.Context, query []float32, k int, options ...vectorstores.Option) ([]schema.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, slices.Clone(query))
	s.options = append(s.options, vectorstores.ParseOptions(options...))
	if s.Err != nil {
		return nil, s.Err
	}
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}

	hits := s.Hits
	if hits == nil {
		hits = make([]schema.SearchHit, 0, len(s.chunks))
		for _, c := range s.chunks {
			hits = append(hits, schema.SearchHit{Content: c.Content, Metadata: c.Metadata, Score: 1.0})
		}
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return slices.Clone(hits), nil
}

func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.NotReady
}

// Chunks returns the chunk set from the last successful ReplaceAll.
func (s *Store) Chunks() []schema.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks)
}

func (s *Store) ReplaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}

// Queries returns every query vector received, oldest first.
func (s *Store) Queries() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

// LastOptions returns the options of the most recent query.
func (s *Store) LastOptions() vectorstores.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.options) == 0 {
		return vectorstores.Options{}
	}
	return s.options[len(s.options)-1]
}
