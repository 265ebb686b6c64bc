package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sevigo/policyrag/schema"
)

// Embedder is the uniform embedding surface used by ingestion and retrieval.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GetDimension(ctx context.Context) (int, error)
}

// Provider embeds a single text per call.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider embeds many texts in one remote call, returning vectors in input order.
type BatchProvider interface {
	Provider
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// BatchCapability is implemented by providers whose batch support depends on
// their configuration.
type BatchCapability interface {
	SupportsBatch() bool
}

// Mode is the embedding strategy chosen for a provider.
type Mode string

const (
	ModeBatch      Mode = "batch"
	ModeSequential Mode = "sequential"
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrCountMismatch   = fmt.Errorf("%w: embedding count does not match input count", schema.ErrProvider)
	ErrEmptyEmbedding  = fmt.Errorf("%w: provider returned an empty embedding", schema.ErrProvider)
	ErrDimensionChange = fmt.Errorf("%w: embedding dimension changed", schema.ErrConsistency)
)

// EmbedderImpl adapts a Provider. The batch or sequential path is selected
// once at construction. The first successful call fixes the dimension;
// vectors of any other length are rejected afterwards.
type EmbedderImpl struct {
	single  Provider
	batch   BatchProvider
	opts    options
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	dimension int
}

var _ Embedder = (*EmbedderImpl)(nil)

func NewEmbedder(provider Provider, opts ...Option) (*EmbedderImpl, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", schema.ErrConfig)
	}
	if _, ok := provider.(*EmbedderImpl); ok {
		return nil, errors.New("cannot wrap an already-wrapped EmbedderImpl")
	}

	embedderOpts := options{
		StripNewLines:  true,
		BatchSize:      32,
		MaxConcurrency: 4,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&embedderOpts)
	}
	if embedderOpts.BatchSize <= 0 {
		embedderOpts.BatchSize = 32
	}
	if embedderOpts.MaxConcurrency <= 0 {
		embedderOpts.MaxConcurrency = 1
	}
	if embedderOpts.Dimension < 0 {
		return nil, fmt.Errorf("%w: embedding dimension cannot be negative", schema.ErrConfig)
	}

	e := &EmbedderImpl{
		single:    provider,
		opts:      embedderOpts,
		logger:    embedderOpts.Logger.With("component", "embedder"),
		limiter:   embedderOpts.Limiter,
		dimension: embedderOpts.Dimension,
	}
	if bp, ok := provider.(BatchProvider); ok {
		if capability, ok := provider.(BatchCapability); !ok || capability.SupportsBatch() {
			e.batch = bp
		}
	}

	e.logger.Debug("Embedder created", "mode", e.Mode(), "batch_size", embedderOpts.BatchSize)
	return e, nil
}

// Mode reports which strategy was selected for the provider.
func (e *EmbedderImpl) Mode() Mode {
	if e.batch != nil {
		return ModeBatch
	}
	return ModeSequential
}

// Dimension returns the discovered dimension, or 0 before the first call.
func (e *EmbedderImpl) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *EmbedderImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec, err := e.embedOne(ctx, e.preprocessText(text))
	if err != nil {
		return nil, err
	}
	if err := e.checkDimensions([][]float32{vec}); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *EmbedderImpl) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	processedTexts := make([]string, len(texts))
	for i, text := range texts {
		processedTexts[i] = e.preprocessText(text)
	}

	var (
		vectors [][]float32
		err     error
	)
	if e.batch != nil {
		vectors, err = e.embedBatches(ctx, processedTexts)
	} else {
		vectors, err = e.embedSequential(ctx, processedTexts)
	}
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d, received %d", ErrCountMismatch, len(texts), len(vectors))
	}
	if err := e.checkDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetDimension returns the embedding dimension, probing the provider when it
// has not been discovered yet.
func (e *EmbedderImpl) GetDimension(ctx context.Context) (int, error) {
	if dim := e.Dimension(); dim > 0 {
		return dim, nil
	}
	vec, err := e.EmbedQuery(ctx, "dimension_check")
	if err != nil {
		return 0, fmt.Errorf("failed to get dimension: %w", err)
	}
	return len(vec), nil
}

func (e *EmbedderImpl) embedOne(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := e.single.EmbedQuery(ctx, text)
	if err != nil {
		return nil, providerError(err)
	}
	return vec, nil
}

func (e *EmbedderImpl) embedSequential(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("error embedding text %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (e *EmbedderImpl) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchedTexts := batchTexts(texts, e.opts.BatchSize)
	batchResults := make([][][]float32, len(batchedTexts))
	errs := make([]error, len(batchedTexts))

	semaphore := make(chan struct{}, e.opts.MaxConcurrency)

	var wg sync.WaitGroup
	for i, batch := range batchedTexts {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := e.wait(ctx); err != nil {
				errs[i] = err
				return
			}

			vectors, err := e.batch.EmbedDocuments(ctx, batch)
			if err != nil {
				errs[i] = fmt.Errorf("error embedding batch %d: %w", i, providerError(err))
				return
			}
			if len(vectors) != len(batch) {
				errs[i] = fmt.Errorf("%w: batch %d requested %d, received %d", ErrCountMismatch, i, len(batch), len(vectors))
				return
			}
			batchResults[i] = vectors
		}(i, batch)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for _, batch := range batchResults {
		allEmbeddings = append(allEmbeddings, batch...)
	}

	e.logger.DebugContext(ctx, "Embedded documents", "count", len(texts), "batches", len(batchedTexts))
	return allEmbeddings, nil
}

// checkDimensions validates every vector against the corpus dimension,
// recording it on the first successful call.
func (e *EmbedderImpl) checkDimensions(vectors [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dim := e.dimension
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("%w: vector %d", ErrEmptyEmbedding, i)
		}
		if dim == 0 {
			dim = len(vec)
			continue
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: expected %d, got %d at vector %d", ErrDimensionChange, dim, len(vec), i)
		}
	}

	if e.dimension == 0 {
		e.dimension = dim
		e.logger.Info("Discovered embedding dimension", "dimension", dim)
	}
	return nil
}

func (e *EmbedderImpl) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

func (e *EmbedderImpl) preprocessText(text string) string {
	if e.opts.StripNewLines {
		return strings.ReplaceAll(text, "\n", " ")
	}
	return text
}

func providerError(err error) error {
	if errors.Is(err, schema.ErrProvider) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", schema.ErrProvider, err)
}

func batchTexts(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		return [][]string{texts}
	}

	numBatches := (len(texts) + batchSize - 1) / batchSize
	batches := make([][]string, 0, numBatches)

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}

	return batches
}
