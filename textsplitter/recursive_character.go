package textsplitter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sevigo/policyrag/schema"
)

// RecursiveCharacter splits text into windows of at most chunkSize characters.
// Each window ends at the latest paragraph, line, sentence or word boundary it
// contains, falling back to a hard cut. Consecutive chunks share exactly
// chunkOverlap characters: the next window starts chunkOverlap characters
// before the previous one ended.
type RecursiveCharacter struct {
	opts options
}

var _ TextSplitter = (*RecursiveCharacter)(nil)

// NewRecursiveCharacter creates a splitter. Invalid sizes are reported as config errors.
func NewRecursiveCharacter(opts ...Option) (*RecursiveCharacter, error) {
	o := options{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		separators:   defaultSeparators,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	if err := o.validate(); err != nil {
		return nil, err
	}

	return &RecursiveCharacter{opts: o}, nil
}

// ChunkSize returns the configured maximum chunk length.
func (s *RecursiveCharacter) ChunkSize() int { return s.opts.chunkSize }

// ChunkOverlap returns the configured overlap.
func (s *RecursiveCharacter) ChunkOverlap() int { return s.opts.chunkOverlap }

// SplitText splits text into overlapping segments. Lengths are counted in
// runes. Blank input yields no chunks.
func (s *RecursiveCharacter) SplitText(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	size, overlap := s.opts.chunkSize, s.opts.chunkOverlap

	var chunks []string
	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(runes)-start <= size {
			chunks = append(chunks, string(runes[start:]))
			return chunks, nil
		}

		// end must leave the next window starting past this one's start.
		end := s.breakPoint(runes, start+overlap+1, start+size)
		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}
}

// Split splits one source document into chunks tagged with source and index.
func (s *RecursiveCharacter) Split(ctx context.Context, text, source string) ([]schema.Chunk, error) {
	return s.split(ctx, text, source, source, nil)
}

// SplitDocuments splits every document, reading the source identifier from
// the document's "source" metadata. Other metadata is copied onto each chunk.
func (s *RecursiveCharacter) SplitDocuments(ctx context.Context, docs []schema.Document) ([]schema.Chunk, error) {
	var all []schema.Chunk
	for i, doc := range docs {
		source, _ := doc.Metadata[schema.MetadataSource].(string)
		if source == "" {
			source = "document-" + strconv.Itoa(i)
		}

		idKey := source
		if row, ok := doc.Metadata[schema.MetadataRow]; ok {
			idKey = fmt.Sprintf("%s@row%v", source, row)
		}

		chunks, err := s.split(ctx, doc.PageContent, source, idKey, doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to split %q: %w", source, err)
		}
		all = append(all, chunks...)
	}

	s.opts.logger.DebugContext(ctx, "Split documents",
		"documents", len(docs),
		"chunks", len(all),
		"chunk_size", s.opts.chunkSize,
		"chunk_overlap", s.opts.chunkOverlap,
	)
	return all, nil
}

func (s *RecursiveCharacter) split(ctx context.Context, text, source, idKey string, base map[string]any) ([]schema.Chunk, error) {
	parts, err := s.SplitText(ctx, text)
	if err != nil {
		return nil, err
	}

	chunks := make([]schema.Chunk, 0, len(parts))
	for i, part := range parts {
		metadata := make(map[string]any, len(base)+2)
		for k, v := range base {
			metadata[k] = v
		}
		metadata[schema.MetadataSource] = source
		metadata[schema.MetadataIndex] = i

		chunks = append(chunks, schema.Chunk{
			ID:       ChunkID(idKey, i),
			Content:  part,
			Metadata: metadata,
		})
	}
	return chunks, nil
}

// breakPoint returns the exclusive end of a window whose end must lie in
// [lo, hi]. Separators stay with the chunk they terminate.
func (s *RecursiveCharacter) breakPoint(runes []rune, lo, hi int) int {
	for _, level := range s.opts.separators {
		best := -1
		for _, sep := range level {
			if end := lastBoundary(runes, []rune(sep), lo, hi); end > best {
				best = end
			}
		}
		if best >= 0 {
			return best
		}
	}
	return hi
}

// lastBoundary finds the latest occurrence of sep that ends inside [lo, hi]
// and returns the index just past it, or -1.
func lastBoundary(runes, sep []rune, lo, hi int) int {
	n := len(sep)
	if n == 0 {
		return -1
	}
	for end := hi; end >= lo && end-n >= 0; end-- {
		if equalRunes(runes[end-n:end], sep) {
			return end
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChunkID derives a stable identifier from the chunk's provenance so that
// re-ingesting unchanged input produces the same ids.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(index))).String()
}
