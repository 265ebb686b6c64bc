package embeddings_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/schema"
)

// lengthVector encodes the text length so tests can check ordering.
func lengthVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	vec[0] = float32(len(text))
	return vec
}

type singleProvider struct {
	mu    sync.Mutex
	calls []string
	dim   func(call int) int
	err   error
}

func (p *singleProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, text)
	if p.err != nil {
		return nil, p.err
	}
	dim := 3
	if p.dim != nil {
		dim = p.dim(len(p.calls))
	}
	return lengthVector(text, dim), nil
}

type batchProvider struct {
	singleProvider
	batchCalls [][]string
	drop       bool
	supported  *bool
}

func (p *batchProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls = append(p.batchCalls, texts)
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, lengthVector(t, 3))
	}
	if p.drop {
		out = out[:len(out)-1]
	}
	return out, nil
}

type switchableProvider struct {
	batchProvider
}

func (p *switchableProvider) SupportsBatch() bool { return *p.supported }

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.Repeat("a", i+1)
	}
	return out
}

func TestNewEmbedder_SelectsMode(t *testing.T) {
	single, err := embeddings.NewEmbedder(&singleProvider{})
	require.NoError(t, err)
	assert.Equal(t, embeddings.ModeSequential, single.Mode())

	batch, err := embeddings.NewEmbedder(&batchProvider{})
	require.NoError(t, err)
	assert.Equal(t, embeddings.ModeBatch, batch.Mode())

	off := false
	switched, err := embeddings.NewEmbedder(&switchableProvider{batchProvider{supported: &off}})
	require.NoError(t, err)
	assert.Equal(t, embeddings.ModeSequential, switched.Mode())

	_, err = embeddings.NewEmbedder(nil)
	assert.ErrorIs(t, err, schema.ErrConfig)

	_, err = embeddings.NewEmbedder(single)
	assert.Error(t, err)
}

func TestEmbedDocuments_BatchPreservesOrder(t *testing.T) {
	provider := &batchProvider{}
	embedder, err := embeddings.NewEmbedder(provider, embeddings.WithBatchSize(4), embeddings.WithMaxConcurrency(3))
	require.NoError(t, err)

	input := texts(10)
	vectors, err := embedder.EmbedDocuments(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, vectors, 10)
	for i, vec := range vectors {
		assert.Equal(t, float32(i+1), vec[0])
	}

	assert.Len(t, provider.batchCalls, 3)
	assert.Empty(t, provider.calls, "batch path must not fall back to single calls")
	assert.Equal(t, 3, embedder.Dimension())
}

func TestEmbedDocuments_SequentialFallback(t *testing.T) {
	provider := &singleProvider{}
	embedder, err := embeddings.NewEmbedder(provider)
	require.NoError(t, err)

	input := []string{"vacation policy", "dress\ncode", "it"}
	vectors, err := embedder.EmbedDocuments(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []string{"vacation policy", "dress code", "it"}, provider.calls)
	for i, text := range input {
		assert.Equal(t, float32(len(text)), vectors[i][0])
	}
}

func TestEmbedDocuments_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("provider failure", func(t *testing.T) {
		embedder, err := embeddings.NewEmbedder(&batchProvider{singleProvider: singleProvider{err: errors.New("boom")}})
		require.NoError(t, err)
		_, err = embedder.EmbedDocuments(ctx, texts(2))
		assert.ErrorIs(t, err, schema.ErrProvider)
	})

	t.Run("count mismatch", func(t *testing.T) {
		embedder, err := embeddings.NewEmbedder(&batchProvider{drop: true})
		require.NoError(t, err)
		_, err = embedder.EmbedDocuments(ctx, texts(3))
		assert.ErrorIs(t, err, embeddings.ErrCountMismatch)
		assert.ErrorIs(t, err, schema.ErrProvider)
	})

	t.Run("dimension change across calls", func(t *testing.T) {
		provider := &singleProvider{dim: func(call int) int {
			if call == 1 {
				return 3
			}
			return 4
		}}
		embedder, err := embeddings.NewEmbedder(provider)
		require.NoError(t, err)

		_, err = embedder.EmbedQuery(ctx, "first")
		require.NoError(t, err)
		_, err = embedder.EmbedQuery(ctx, "second")
		assert.ErrorIs(t, err, schema.ErrConsistency)
		assert.Equal(t, 3, embedder.Dimension())
	})

	t.Run("declared dimension", func(t *testing.T) {
		embedder, err := embeddings.NewEmbedder(&singleProvider{}, embeddings.WithDimension(8))
		require.NoError(t, err)
		_, err = embedder.EmbedQuery(ctx, "q")
		assert.ErrorIs(t, err, embeddings.ErrDimensionChange)
	})

	t.Run("empty query", func(t *testing.T) {
		embedder, err := embeddings.NewEmbedder(&singleProvider{})
		require.NoError(t, err)
		_, err = embedder.EmbedQuery(ctx, "   ")
		assert.ErrorIs(t, err, embeddings.ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		embedder, err := embeddings.NewEmbedder(&singleProvider{})
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = embedder.EmbedDocuments(cctx, texts(2))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetDimension(t *testing.T) {
	provider := &singleProvider{}
	embedder, err := embeddings.NewEmbedder(provider)
	require.NoError(t, err)

	dim, err := embedder.GetDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	dim, err = embedder.GetDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	assert.Len(t, provider.calls, 1, "dimension is probed once")
}

func TestEmbedDocuments_Empty(t *testing.T) {
	embedder, err := embeddings.NewEmbedder(&batchProvider{})
	require.NoError(t, err)
	vectors, err := embedder.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
