package retrievers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/keywordindex"
	keywordfake "github.com/sevigo/policyrag/keywordindex/fake"
	"github.com/sevigo/policyrag/retrievers"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores/fake"
	"github.com/sevigo/policyrag/vectorstores/memory"
)

type staticEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e staticEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func hits(contents ...string) []schema.SearchHit {
	out := make([]schema.SearchHit, len(contents))
	for i, c := range contents {
		out[i] = schema.SearchHit{Content: c, Metadata: map[string]any{"source": c + ".txt"}}
	}
	return out
}

func contents(docs []schema.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.PageContent
	}
	return out
}

func loadedMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.ReplaceAll(context.Background(), []schema.Chunk{
		{ID: "1", Content: "Vacation: 20 days/year.", Metadata: map[string]any{"source": "leave.txt", "index": 0}, Embedding: []float32{1, 0}},
		{ID: "2", Content: "Dress code: casual.", Metadata: map[string]any{"source": "conduct.txt", "index": 0}, Embedding: []float32{0, 1}},
	}))
	return store
}

func TestHybrid_VectorOnly(t *testing.T) {
	embedder := staticEmbedder{vectors: map[string][]float32{"How many vacation days?": {0.9, 0.1}}}
	r, err := retrievers.NewHybrid(embedder, loadedMemoryStore(t))
	require.NoError(t, err)
	assert.True(t, r.Ready())

	docs, err := r.Retrieve(context.Background(), "How many vacation days?", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Vacation: 20 days/year.", docs[0].PageContent)
	assert.Equal(t, "leave.txt", docs[0].Metadata["source"])

	docs, err = r.GetRelevantDocuments(context.Background(), "How many vacation days?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Vacation: 20 days/year.", "Dress code: casual."}, contents(docs))
}

func TestHybrid_KeywordDisabledFallsBackToVector(t *testing.T) {
	backend := &keywordfake.Backend{Hits: hits("never")}
	idx, err := keywordindex.New(backend, keywordindex.WithEnabled(false))
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), "vacation", nil, 4, nil)
	require.ErrorIs(t, err, schema.ErrFeatureDisabled)

	embedder := staticEmbedder{vectors: map[string][]float32{"vacation": {1, 0}}}
	r, err := retrievers.NewHybrid(embedder, loadedMemoryStore(t), retrievers.WithKeywordIndex(idx))
	require.NoError(t, err)

	docs, err := r.Retrieve(context.Background(), "vacation", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vacation: 20 days/year.", "Dress code: casual."}, contents(docs))
	assert.Empty(t, backend.Calls())
}

func TestHybrid_MergesBothPaths(t *testing.T) {
	store := fake.New()
	store.Hits = hits("a", "b", "c")
	backend := &keywordfake.Backend{Hits: hits("c", "d", "a")}
	idx, err := keywordindex.New(backend)
	require.NoError(t, err)

	r, err := retrievers.NewHybrid(staticEmbedder{}, store, retrievers.WithKeywordIndex(idx))
	require.NoError(t, err)

	docs, err := r.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	// a: 1/61 + 1/63, c: 1/63 + 1/61, b: 1/62, d: 1/62
	assert.Equal(t, []string{"a", "c", "b"}, contents(docs))

	again, err := r.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, contents(docs), contents(again), "merge must be deterministic")
}

func TestHybrid_Degradation(t *testing.T) {
	boom := errors.New("store unavailable")

	t.Run("vector fails, keyword serves", func(t *testing.T) {
		store := fake.New()
		store.Err = boom
		idx, err := keywordindex.New(&keywordfake.Backend{Hits: hits("k1", "k2")})
		require.NoError(t, err)
		r, err := retrievers.NewHybrid(staticEmbedder{}, store, retrievers.WithKeywordIndex(idx))
		require.NoError(t, err)

		docs, err := r.Retrieve(context.Background(), "q", 4)
		require.NoError(t, err)
		assert.Equal(t, []string{"k1", "k2"}, contents(docs))
	})

	t.Run("keyword fails, vector serves", func(t *testing.T) {
		store := fake.New()
		store.Hits = hits("v1")
		idx, err := keywordindex.New(&keywordfake.Backend{Err: boom})
		require.NoError(t, err)
		r, err := retrievers.NewHybrid(staticEmbedder{}, store, retrievers.WithKeywordIndex(idx))
		require.NoError(t, err)

		docs, err := r.Retrieve(context.Background(), "q", 4)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, contents(docs))
	})

	t.Run("both fail", func(t *testing.T) {
		embedErr := errors.New("embedding endpoint down")
		idx, err := keywordindex.New(&keywordfake.Backend{Err: boom})
		require.NoError(t, err)
		r, err := retrievers.NewHybrid(staticEmbedder{err: embedErr}, fake.New(), retrievers.WithKeywordIndex(idx))
		require.NoError(t, err)

		_, err = r.Retrieve(context.Background(), "q", 4)
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrRetrieval)
		assert.ErrorIs(t, err, embedErr)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("vector disabled and keyword disabled", func(t *testing.T) {
		r, err := retrievers.NewHybrid(nil, nil,
			retrievers.WithVectorSearch(false),
			retrievers.WithKeywordIndex(keywordindex.Disabled()))
		require.NoError(t, err)
		assert.False(t, r.Ready())

		_, err = r.Retrieve(context.Background(), "q", 4)
		assert.ErrorIs(t, err, schema.ErrRetrieval)
	})
}

func TestHybrid_FilterReachesBothPaths(t *testing.T) {
	store := fake.New()
	backend := &keywordfake.Backend{}
	idx, err := keywordindex.New(backend)
	require.NoError(t, err)

	filter := &schema.Filter{Path: "source", Value: "leave.txt"}
	r, err := retrievers.NewHybrid(staticEmbedder{}, store,
		retrievers.WithKeywordIndex(idx),
		retrievers.WithKeywordFields("content", "metadata.source"),
		retrievers.WithFilter(filter))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, filter, store.LastOptions().Filter)
	require.Len(t, backend.Calls(), 1)
	assert.Equal(t, filter, backend.Calls()[0].Filter)
	assert.Equal(t, []string{"content", "metadata.source"}, backend.Calls()[0].Fields)
}

func TestHybrid_ScoreThreshold(t *testing.T) {
	embedder := staticEmbedder{vectors: map[string][]float32{"leave": {0.9, 0.1}}}
	threshold := float32(0.5)

	r, err := retrievers.NewHybrid(embedder, loadedMemoryStore(t), retrievers.WithScoreThreshold(&threshold))
	require.NoError(t, err)

	docs, err := r.Retrieve(context.Background(), "leave", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vacation: 20 days/year."}, contents(docs))
}

func TestHybrid_Readiness(t *testing.T) {
	r, err := retrievers.NewHybrid(staticEmbedder{}, memory.New())
	require.NoError(t, err)
	assert.False(t, r.Ready(), "memory store is not ready before the first load")

	docs, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestNewHybrid_Validation(t *testing.T) {
	_, err := retrievers.NewHybrid(nil, nil)
	assert.ErrorIs(t, err, schema.ErrConfig)

	_, err = retrievers.NewHybrid(staticEmbedder{}, fake.New(), retrievers.WithK(0))
	assert.ErrorIs(t, err, schema.ErrConfig)

	r, err := retrievers.NewHybrid(staticEmbedder{}, fake.New())
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "q", 0)
	assert.ErrorIs(t, err, schema.ErrConfig)
}

func TestFuse(t *testing.T) {
	t.Run("single list keeps order and dedupes", func(t *testing.T) {
		docs := retrievers.Fuse(10, hits("x", "y", "x", "z"))
		assert.Equal(t, []string{"x", "y", "z"}, contents(docs))
	})

	t.Run("ties keep first appearance", func(t *testing.T) {
		docs := retrievers.Fuse(4, hits("v1", "v2"), hits("k1", "k2"))
		assert.Equal(t, []string{"v1", "k1", "v2", "k2"}, contents(docs))
	})

	t.Run("shared hit wins and keeps first metadata", func(t *testing.T) {
		vector := hits("a", "shared")
		keyword := []schema.SearchHit{{Content: "shared", Metadata: map[string]any{"source": "other"}}}
		docs := retrievers.Fuse(1, vector, keyword)
		require.Len(t, docs, 1)
		assert.Equal(t, "shared", docs[0].PageContent)
		assert.Equal(t, "shared.txt", docs[0].Metadata["source"])
	})

	t.Run("truncates to k", func(t *testing.T) {
		assert.Len(t, retrievers.Fuse(2, hits("a", "b", "c")), 2)
		assert.Empty(t, retrievers.Fuse(3))
	})
}
