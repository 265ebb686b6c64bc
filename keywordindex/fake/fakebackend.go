// Package fake provides a scripted keyword backend for tests.
package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/sevigo/policyrag/schema"
)

type Call struct {
	Query  string
	Fields []string
	Limit  int
	Filter *schema.Filter
}

type Backend struct {
	mu sync.Mutex

	Hits []schema.SearchHit
	Err  error

	calls  []Call
	chunks []schema.Chunk
}

func (b *Backend) Search(_ context.Context, query string, fields []string, limit int, filter *schema.Filter) ([]schema.SearchHit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Query: query, Fields: slices.Clone(fields), Limit: limit, Filter: filter})
	if b.Err != nil {
		return nil, b.Err
	}
	return slices.Clone(b.Hits), nil
}

func (b *Backend) ReplaceAll(_ context.Context, chunks []schema.Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.chunks = slices.Clone(chunks)
	return nil
}

func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *Backend) Chunks() []schema.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.chunks)
}
