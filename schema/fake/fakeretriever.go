package fake

import (
	"context"
	"sync"

	"github.com/sevigo/policyrag/schema"
)

// Retriever is a scripted retriever for testing purposes.
type Retriever struct {
	DocsToReturn []schema.Document
	ErrToReturn  error
	NotReady     bool

	mu      sync.Mutex
	queries []string
}

func NewRetriever() *Retriever {
	return &Retriever{}
}

// GetRelevantDocuments records the query and returns the pre-configured documents and error.
func (r *Retriever) GetRelevantDocuments(_ context.Context, query string) ([]schema.Document, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	return r.DocsToReturn, r.ErrToReturn
}

// Ready reports whether the retriever should be treated as initialized.
func (r *Retriever) Ready() bool {
	return !r.NotReady
}

// Queries returns every query received so far.
func (r *Retriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}
