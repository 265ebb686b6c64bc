// Package retrievers turns a question into a ranked list of passages by
// combining dense vector search and keyword search.
package retrievers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

const (
	DefaultK = 4
	// RRFConstant damps the weight of top ranks in reciprocal rank fusion.
	RRFConstant = 60
)

var (
	ErrVectorDisabled = fmt.Errorf("%w: vector search is disabled", schema.ErrFeatureDisabled)
	ErrNoPath         = fmt.Errorf("%w: no retrieval path is enabled", schema.ErrRetrieval)
)

// QueryEmbedder is the part of an embedder the retriever needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Hybrid struct {
	embedder      QueryEmbedder
	store         vectorstores.VectorStore
	keyword       *keywordindex.Index
	vectorEnabled bool
	keywordFields []string
	filter        *schema.Filter
	threshold     *float32
	k             int
	logger        *slog.Logger
	tracer        trace.Tracer
}

var _ schema.Retriever = (*Hybrid)(nil)

type Option func(*Hybrid)

// WithK sets the passage count used by GetRelevantDocuments.
func WithK(k int) Option {
	return func(h *Hybrid) {
		h.k = k
	}
}

// WithVectorSearch switches the dense path on or off.
func WithVectorSearch(enabled bool) Option {
	return func(h *Hybrid) {
		h.vectorEnabled = enabled
	}
}

// WithKeywordIndex runs idx alongside vector search when it is enabled.
func WithKeywordIndex(idx *keywordindex.Index) Option {
	return func(h *Hybrid) {
		h.keyword = idx
	}
}

func WithKeywordFields(fields ...string) Option {
	return func(h *Hybrid) {
		h.keywordFields = fields
	}
}

// WithFilter restricts both paths to passages matching f.
func WithFilter(f *schema.Filter) Option {
	return func(h *Hybrid) {
		h.filter = f
	}
}

// WithScoreThreshold drops vector hits scoring below *threshold. Nil keeps all.
func WithScoreThreshold(threshold *float32) Option {
	return func(h *Hybrid) {
		h.threshold = threshold
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hybrid) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHybrid(embedder QueryEmbedder, store vectorstores.VectorStore, opts ...Option) (*Hybrid, error) {
	h := &Hybrid{
		embedder:      embedder,
		store:         store,
		vectorEnabled: true,
		k:             DefaultK,
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/sevigo/policyrag/retrievers"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := vectorstores.ValidateK(h.k); err != nil {
		return nil, err
	}
	if h.vectorEnabled && (embedder == nil || store == nil) {
		return nil, fmt.Errorf("%w: vector search needs an embedder and a store", schema.ErrConfig)
	}
	h.logger = h.logger.With("component", "hybrid_retriever")
	return h, nil
}

// Ready reports whether at least one retrieval path can serve queries.
func (h *Hybrid) Ready() bool {
	if h.keyword.Enabled() {
		return true
	}
	return h.vectorEnabled && vectorstores.IsReady(h.store)
}

func (h *Hybrid) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	return h.Retrieve(ctx, query, h.k)
}

// Retrieve returns up to k passages. A failing or disabled path degrades to
// the other one; the call fails with ErrRetrieval only when no path produced
// results.
func (h *Hybrid) Retrieve(ctx context.Context, query string, k int) ([]schema.Document, error) {
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}
	ctx, span := h.tracer.Start(ctx, "retrievers.Hybrid.Retrieve",
		trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()
	start := time.Now()

	useVector := h.vectorEnabled
	useKeyword := h.keyword.Enabled()
	if !useVector && !useKeyword {
		span.SetStatus(codes.Error, ErrNoPath.Error())
		return nil, ErrNoPath
	}

	var (
		wg                      sync.WaitGroup
		vectorHits, keywordHits []schema.SearchHit
		vectorErr, keywordErr   error
	)
	if useVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorHits, vectorErr = h.vectorSearch(ctx, query, k)
		}()
	}
	if useKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordHits, keywordErr = h.keyword.Search(ctx, query, h.keywordFields, k, h.filter)
		}()
	}
	wg.Wait()

	vectorOK := useVector && vectorErr == nil
	keywordOK := useKeyword && keywordErr == nil
	if !vectorOK && !keywordOK {
		var errs []error
		if useVector {
			errs = append(errs, fmt.Errorf("vector: %w", vectorErr))
		}
		if useKeyword {
			errs = append(errs, fmt.Errorf("keyword: %w", keywordErr))
		}
		err := fmt.Errorf("%w: %w", schema.ErrRetrieval, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all retrieval paths failed")
		h.logger.WarnContext(ctx, "All retrieval paths failed", "error", err)
		return nil, err
	}
	if useVector && vectorErr != nil {
		h.logger.WarnContext(ctx, "Vector search failed, using keyword results", "error", vectorErr)
	}
	if useKeyword && keywordErr != nil {
		h.logger.WarnContext(ctx, "Keyword search failed, using vector results", "error", keywordErr)
	}

	var lists [][]schema.SearchHit
	if vectorOK {
		lists = append(lists, vectorHits)
	}
	if keywordOK {
		lists = append(lists, keywordHits)
	}
	docs := Fuse(k, lists...)

	span.SetAttributes(
		attribute.Int("vector_hits", len(vectorHits)),
		attribute.Int("keyword_hits", len(keywordHits)),
		attribute.Int("passages", len(docs)),
	)
	h.logger.DebugContext(ctx, "Retrieved passages",
		"k", k,
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"passages", len(docs),
		"duration", time.Since(start),
	)
	return docs, nil
}

func (h *Hybrid) vectorSearch(ctx context.Context, query string, k int) ([]schema.SearchHit, error) {
	vec, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	opts := []vectorstores.Option{vectorstores.WithOptionalFilter(h.filter)}
	if h.threshold != nil {
		opts = append(opts, vectorstores.WithScoreThreshold(*h.threshold))
	}
	return h.store.NearestNeighbors(ctx, vec, k, opts...)
}
