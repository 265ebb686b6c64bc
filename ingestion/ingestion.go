// Package ingestion loads the policy corpus: documents are split into chunks,
// embedded in batches and installed with ReplaceAll on the vector store and,
// when configured, on the keyword index.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sevigo/policyrag/documentloaders"
	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/textsplitter"
	"github.com/sevigo/policyrag/vectorstores"
)

var (
	ErrNoLoader   = fmt.Errorf("%w: ingestion needs a document loader", schema.ErrConfig)
	ErrNoSplitter = fmt.Errorf("%w: ingestion needs a text splitter", schema.ErrConfig)
	ErrNoSink     = fmt.Errorf("%w: ingestion needs a vector store or a keyword index", schema.ErrConfig)
	ErrNoEmbedder = fmt.Errorf("%w: a vector store needs an embedder", schema.ErrConfig)
)

// Result summarizes one ingestion run.
type Result struct {
	Documents int
	Chunks    int
	Embedded  int
	Duration  time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%d documents, %d chunks, %d embedded in %s",
		r.Documents, r.Chunks, r.Embedded, r.Duration.Round(time.Millisecond))
}

// Pipeline runs ingestion. Runs are serialized; queries against the stores
// keep being served from the previous chunk set until ReplaceAll returns.
type Pipeline struct {
	loader   documentloaders.Loader
	splitter textsplitter.TextSplitter
	embedder embeddings.Embedder
	store    vectorstores.VectorStore
	keyword  keywordindex.Writer
	logger   *slog.Logger

	mu sync.Mutex
}

type Option func(*Pipeline)

func WithEmbedder(embedder embeddings.Embedder) Option {
	return func(p *Pipeline) {
		p.embedder = embedder
	}
}

func WithVectorStore(store vectorstores.VectorStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithKeywordWriter also loads every chunk into a keyword backend. A writer
// that is the vector store itself is loaded only once.
func WithKeywordWriter(w keywordindex.Writer) Option {
	return func(p *Pipeline) {
		p.keyword = w
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(loader documentloaders.Loader, splitter textsplitter.TextSplitter, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		loader:   loader,
		splitter: splitter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	switch {
	case p.loader == nil:
		return nil, ErrNoLoader
	case p.splitter == nil:
		return nil, ErrNoSplitter
	case p.store == nil && p.keyword == nil:
		return nil, ErrNoSink
	case p.store != nil && p.embedder == nil:
		return nil, ErrNoEmbedder
	}

	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Run loads all documents from the loader and ingests them.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	docs, err := p.loader.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load documents: %w", err)
	}
	return p.Ingest(ctx, docs)
}

// Ingest replaces the stored corpus with the chunks of docs.
func (p *Pipeline) Ingest(ctx context.Context, docs []schema.Document) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	result := Result{Documents: len(docs)}

	chunks, err := p.splitter.SplitDocuments(ctx, docs)
	if err != nil {
		return result, fmt.Errorf("split documents: %w", err)
	}
	result.Chunks = len(chunks)

	if p.store != nil {
		embedded, err := p.embed(ctx, chunks)
		if err != nil {
			return result, err
		}
		result.Embedded = embedded

		if err := p.store.ReplaceAll(ctx, chunks); err != nil {
			return result, fmt.Errorf("replace vector store: %w", err)
		}
	}

	if p.keyword != nil && !p.sameSink() {
		if err := p.keyword.ReplaceAll(ctx, chunks); err != nil {
			return result, fmt.Errorf("replace keyword index: %w", err)
		}
	}

	result.Duration = time.Since(start)
	p.logger.InfoContext(ctx, "Ingestion completed",
		"documents", result.Documents,
		"chunks", result.Chunks,
		"embedded", result.Embedded,
		"duration", result.Duration,
	)
	return result, nil
}

// embed fills in the embedding of every chunk with text. Blank chunks stay
// unembedded.
func (p *Pipeline) embed(ctx context.Context, chunks []schema.Chunk) (int, error) {
	var (
		texts   []string
		targets []int
	)
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		texts = append(texts, c.Content)
		targets = append(targets, i)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("%w: requested %d embeddings, received %d", schema.ErrProvider, len(texts), len(vectors))
	}

	for j, i := range targets {
		chunks[i].Embedding = vectors[j]
	}
	return len(targets), nil
}

func (p *Pipeline) sameSink() bool {
	if p.store == nil {
		return false
	}
	w, ok := p.store.(keywordindex.Writer)
	return ok && w == p.keyword
}
