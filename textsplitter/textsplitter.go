package textsplitter

import (
	"context"

	"github.com/sevigo/policyrag/schema"
)

// TextSplitter turns source documents into chunks. Chunk indices restart at
// zero for every source document.
type TextSplitter interface {
	SplitDocuments(ctx context.Context, docs []schema.Document) ([]schema.Chunk, error)
}
