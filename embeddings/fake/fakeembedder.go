package fake

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/sevigo/policyrag/embeddings"
)

const DefaultDimension = 8

// Embedder returns scripted vectors for known texts and a hashed
// bag-of-words vector for anything else, so texts sharing words score as
// similar.
type Embedder struct {
	Vectors map[string][]float32
	Dim     int
	Err     error

	mu         sync.Mutex
	queries    []string
	batchCalls int
}

var _ embeddings.Embedder = (*Embedder)(nil)

func NewEmbedder(vectors map[string][]float32) *Embedder {
	return &Embedder{Vectors: vectors, Dim: DefaultDimension}
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCalls++
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, text)
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

func (e *Embedder) GetDimension(context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.Vectors {
		return len(v), nil
	}
	return e.dimension(), nil
}

// SetError makes every following call fail with err.
func (e *Embedder) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

// Queries returns the texts passed to EmbedQuery.
func (e *Embedder) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// BatchCalls returns how many times EmbedDocuments was called.
func (e *Embedder) BatchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchCalls
}

func (e *Embedder) dimension() int {
	if e.Dim > 0 {
		return e.Dim
	}
	return DefaultDimension
}

func (e *Embedder) vector(text string) []float32 {
	if v, ok := e.Vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	vec := make([]float32, e.dimension())
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,:;!?")))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	return vec
}
