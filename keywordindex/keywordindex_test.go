package keywordindex_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/keywordindex/fake"
	"github.com/sevigo/policyrag/schema"
)

func TestIndex_Disabled(t *testing.T) {
	backend := &fake.Backend{}
	idx, err := keywordindex.New(backend, keywordindex.WithEnabled(false))
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), "vacation", nil, 5, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, keywordindex.ErrDisabled)
	assert.ErrorIs(t, err, schema.ErrFeatureDisabled)
	assert.Empty(t, backend.Calls(), "a disabled index must not reach the backend")

	_, err = keywordindex.Disabled().Search(context.Background(), "vacation", nil, 5, nil)
	assert.ErrorIs(t, err, schema.ErrFeatureDisabled)
	assert.False(t, keywordindex.Disabled().Enabled())
}

func TestIndex_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates with default fields and filter", func(t *testing.T) {
		backend := &fake.Backend{Hits: []schema.SearchHit{
			{Content: "a", Score: 3}, {Content: "b", Score: 2}, {Content: "c", Score: 1},
		}}
		idx, err := keywordindex.New(backend)
		require.NoError(t, err)

		filter := &schema.Filter{Path: "source", Value: "leave.txt"}
		hits, err := idx.Search(ctx, "vacation days", nil, 2, filter)
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		calls := backend.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{keywordindex.DefaultField}, calls[0].Fields)
		assert.Equal(t, filter, calls[0].Filter)
		assert.Equal(t, 2, calls[0].Limit)
	})

	t.Run("explicit fields", func(t *testing.T) {
		backend := &fake.Backend{}
		idx, err := keywordindex.New(backend, keywordindex.WithDefaultFields("title"))
		require.NoError(t, err)

		_, err = idx.Search(ctx, "q", []string{"content", "metadata.source"}, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"content", "metadata.source"}, backend.Calls()[0].Fields)

		_, err = idx.Search(ctx, "q", nil, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"title"}, backend.Calls()[1].Fields)
	})

	t.Run("blank query", func(t *testing.T) {
		backend := &fake.Backend{}
		idx, err := keywordindex.New(backend)
		require.NoError(t, err)
		hits, err := idx.Search(ctx, "   ", nil, 3, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.Empty(t, backend.Calls())
	})

	t.Run("invalid limit", func(t *testing.T) {
		idx, err := keywordindex.New(&fake.Backend{})
		require.NoError(t, err)
		_, err = idx.Search(ctx, "q", nil, 0, nil)
		assert.ErrorIs(t, err, keywordindex.ErrInvalidLimit)
	})

	t.Run("backend error", func(t *testing.T) {
		boom := errors.New("connection refused")
		idx, err := keywordindex.New(&fake.Backend{Err: boom})
		require.NoError(t, err)
		_, err = idx.Search(ctx, "q", nil, 3, nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestNew_RequiresBackendWhenEnabled(t *testing.T) {
	_, err := keywordindex.New(nil)
	assert.ErrorIs(t, err, schema.ErrConfig)
}
