package textsplitter_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/textsplitter"
)

func policyText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Section %d. Employees accrue leave monthly. Requests need manager approval! Is carry-over allowed? Only five days.", i)
		if i < paragraphs-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	return string(r[len(r)-n:])
}

func firstRunes(s string, n int) string {
	return string([]rune(s)[:n])
}

func TestNewRecursiveCharacter_Config(t *testing.T) {
	tests := []struct {
		name    string
		opts    []textsplitter.Option
		wantErr error
	}{
		{name: "defaults", opts: nil},
		{name: "overlap equals size", opts: []textsplitter.Option{textsplitter.WithChunkSize(100), textsplitter.WithChunkOverlap(100)}, wantErr: textsplitter.ErrInvalidChunkOverlap},
		{name: "overlap larger than size", opts: []textsplitter.Option{textsplitter.WithChunkSize(10), textsplitter.WithChunkOverlap(50)}, wantErr: textsplitter.ErrInvalidChunkOverlap},
		{name: "negative overlap", opts: []textsplitter.Option{textsplitter.WithChunkOverlap(-1)}, wantErr: textsplitter.ErrInvalidChunkOverlap},
		{name: "zero size", opts: []textsplitter.Option{textsplitter.WithChunkSize(0)}, wantErr: textsplitter.ErrInvalidChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splitter, err := textsplitter.NewRecursiveCharacter(tt.opts...)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, 1000, splitter.ChunkSize())
				assert.Equal(t, 100, splitter.ChunkOverlap())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, schema.ErrConfig)
		})
	}
}

func TestRecursiveCharacter_EmptyAndShortInput(t *testing.T) {
	ctx := context.Background()
	splitter, err := textsplitter.NewRecursiveCharacter()
	require.NoError(t, err)

	chunks, err := splitter.Split(ctx, "", "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = splitter.Split(ctx, "  \n\t ", "blank.txt")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = splitter.Split(ctx, "Vacation: 20 days/year.", "handbook.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Vacation: 20 days/year.", chunks[0].Content)
	assert.Equal(t, "handbook.txt", chunks[0].Source())
	assert.Equal(t, 0, chunks[0].Index())
	assert.Nil(t, chunks[0].Embedding)
}

func TestRecursiveCharacter_ExactOverlap(t *testing.T) {
	ctx := context.Background()
	text := policyText(12)

	tests := []struct {
		size, overlap int
	}{
		{size: 50, overlap: 10},
		{size: 100, overlap: 0},
		{size: 30, overlap: 29},
		{size: 200, overlap: 100},
		{size: 1000, overlap: 100},
		{size: 7, overlap: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("size=%d/overlap=%d", tt.size, tt.overlap), func(t *testing.T) {
			splitter, err := textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(tt.size),
				textsplitter.WithChunkOverlap(tt.overlap),
			)
			require.NoError(t, err)

			chunks, err := splitter.SplitText(ctx, text)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			rebuilt := chunks[0]
			for i, chunk := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), tt.size, "chunk %d too long", i)
				if i == 0 {
					continue
				}
				require.Greater(t, utf8.RuneCountInString(chunk), tt.overlap)
				assert.Equal(t, lastRunes(chunks[i-1], tt.overlap), firstRunes(chunk, tt.overlap), "overlap between %d and %d", i-1, i)
				rebuilt += string([]rune(chunk)[tt.overlap:])
			}
			assert.Equal(t, text, rebuilt)
		})
	}
}

func TestRecursiveCharacter_BoundaryPreference(t *testing.T) {
	ctx := context.Background()

	t.Run("paragraph before sentence", func(t *testing.T) {
		splitter, err := textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(60), textsplitter.WithChunkOverlap(0))
		require.NoError(t, err)

		text := "First rule. Second rule.\n\nThird rule is much longer than the rest of them."
		chunks, err := splitter.SplitText(ctx, text)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "First rule. Second rule.\n\n", chunks[0])
		assert.Equal(t, "Third rule is much longer than the rest of them.", chunks[1])
	})

	t.Run("sentence before word", func(t *testing.T) {
		splitter, err := textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(30), textsplitter.WithChunkOverlap(0))
		require.NoError(t, err)

		chunks, err := splitter.SplitText(ctx, "Badges are required. Visitors sign in at reception.")
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, "Badges are required. ", chunks[0])
	})

	t.Run("hard cut without separators", func(t *testing.T) {
		splitter, err := textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(10), textsplitter.WithChunkOverlap(2))
		require.NoError(t, err)

		chunks, err := splitter.SplitText(ctx, strings.Repeat("x", 25))
		require.NoError(t, err)
		assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 9)}, chunks)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		splitter, err := textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(10), textsplitter.WithChunkOverlap(0))
		require.NoError(t, err)

		chunks, err := splitter.SplitText(ctx, strings.Repeat("é", 25))
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for _, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk))
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
		}
	})
}

func TestRecursiveCharacter_SplitDocuments(t *testing.T) {
	ctx := context.Background()
	splitter, err := textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(40), textsplitter.WithChunkOverlap(5))
	require.NoError(t, err)

	docs := []schema.Document{
		schema.NewDocument(policyText(2), map[string]any{"source": "leave.txt", "file_type": "txt"}),
		schema.NewDocument(policyText(3), map[string]any{"source": "travel.txt"}),
	}

	chunks, err := splitter.SplitDocuments(ctx, docs)
	require.NoError(t, err)

	perSource := map[string][]schema.Chunk{}
	for _, c := range chunks {
		perSource[c.Source()] = append(perSource[c.Source()], c)
	}
	require.Len(t, perSource, 2)

	for source, group := range perSource {
		for i, c := range group {
			assert.Equal(t, i, c.Index(), "source %s", source)
			assert.Equal(t, textsplitter.ChunkID(source, i), c.ID)
		}
	}
	assert.Equal(t, "txt", perSource["leave.txt"][0].Metadata["file_type"])
	assert.NotContains(t, perSource["travel.txt"][0].Metadata, "file_type")

	again, err := splitter.SplitDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, chunks, again)
}

func TestRecursiveCharacter_SplitDocumentsRowsKeepDistinctIDs(t *testing.T) {
	splitter, err := textsplitter.NewRecursiveCharacter()
	require.NoError(t, err)

	docs := []schema.Document{
		schema.NewDocument("vacation 20 days", map[string]any{schema.MetadataSource: "rules.csv", schema.MetadataRow: 1}),
		schema.NewDocument("dress code casual", map[string]any{schema.MetadataSource: "rules.csv", schema.MetadataRow: 2}),
	}

	chunks, err := splitter.SplitDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
	for i, c := range chunks {
		assert.Equal(t, "rules.csv", c.Source())
		assert.Equal(t, 0, c.Index())
		assert.Equal(t, i+1, c.Metadata[schema.MetadataRow])
	}
}

func TestRecursiveCharacter_CustomSeparators(t *testing.T) {
	splitter, err := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(12),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators("|"),
	)
	require.NoError(t, err)

	chunks, err := splitter.SplitText(context.Background(), "alpha|beta gamma|delta")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha|", "beta gamma|", "delta"}, chunks)
}
