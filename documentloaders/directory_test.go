package documentloaders_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/documentloaders"
	"github.com/sevigo/policyrag/schema"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirectoryLoader_Load(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handbook.txt", "Vacation: 20 days/year.")
	writeFile(t, root, "bom.txt", "\xEF\xBB\xBFCafe\u0301 policy")
	writeFile(t, root, "empty.txt", "  \n")
	writeFile(t, root, "data.tsv", "a\tb\n")
	writeFile(t, root, "notes.md", "# ignored")
	writeFile(t, root, ".git/config.txt", "ignored")
	writeFile(t, root, "sub/rules.csv", "topic,rule\nvacation,20 days\n , \n\"remote;work\",allowed\n")

	loader := documentloaders.NewDirectory(root)
	docs, err := loader.Load(context.Background())
	require.NoError(t, err)

	var sources, contents []string
	for _, d := range docs {
		sources = append(sources, d.Metadata[schema.MetadataSource].(string))
		contents = append(contents, d.PageContent)
	}
	assert.Equal(t, []string{"bom.txt", "data.tsv", "handbook.txt", "sub/rules.csv", "sub/rules.csv", "sub/rules.csv"}, sources)
	assert.Equal(t, []string{"Caf\u00e9 policy", "a b", "Vacation: 20 days/year.", "topic rule", "vacation 20 days", "remote;work allowed"}, contents)

	handbook := docs[2]
	assert.Equal(t, documentloaders.FileTypeText, handbook.Metadata[documentloaders.MetadataFileType])
	assert.Equal(t, int64(len("Vacation: 20 days/year.")), handbook.Metadata[documentloaders.MetadataFileSize])
	assert.IsType(t, "", handbook.Metadata[documentloaders.MetadataModTime])
	assert.NotContains(t, handbook.Metadata, schema.MetadataRow)

	assert.Equal(t, documentloaders.FileTypeTSV, docs[1].Metadata[documentloaders.MetadataFileType])
	assert.Equal(t, 1, docs[1].Metadata[schema.MetadataRow])

	var rows []any
	for _, d := range docs[3:] {
		assert.Equal(t, documentloaders.FileTypeCSV, d.Metadata[documentloaders.MetadataFileType])
		rows = append(rows, d.Metadata[schema.MetadataRow])
	}
	assert.Equal(t, []any{1, 2, 4}, rows)
}

func TestDirectoryLoader_MaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "tiny")
	writeFile(t, root, "large.txt", "this one is too large")

	docs, err := documentloaders.NewDirectory(root, documentloaders.WithMaxFileSize(8)).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "tiny", docs[0].PageContent)
}

func TestDirectoryLoader_InvalidRoot(t *testing.T) {
	root := t.TempDir()

	_, err := documentloaders.NewDirectory(filepath.Join(root, "missing")).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrConfig)

	writeFile(t, root, "file.txt", "x")
	_, err = documentloaders.NewDirectory(filepath.Join(root, "file.txt")).Load(context.Background())
	assert.ErrorIs(t, err, documentloaders.ErrNotDirectory)
	assert.ErrorIs(t, err, schema.ErrConfig)
}

func TestDirectoryLoader_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := documentloaders.NewDirectory(root).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectoryLoader_EmptyDirectory(t *testing.T) {
	docs, err := documentloaders.NewDirectory(t.TempDir()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}
