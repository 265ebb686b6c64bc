package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/policyrag/config"
	"github.com/sevigo/policyrag/schema"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 4, cfg.Retrieval.K)
	assert.Equal(t, 10, cfg.Memory.MaxTurns)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.True(t, cfg.Retrieval.Vector.IsEnabled())
	assert.Equal(t, config.BackendMemory, cfg.Retrieval.Vector.Backend)
	assert.False(t, cfg.Retrieval.Keyword.Enabled)
	assert.Nil(t, cfg.Filter())
}

func TestParse(t *testing.T) {
	t.Setenv("POLICYRAG_TEST_MODEL", "gpt-4o")

	cfg, err := config.Parse([]byte(`
chunking:
  size: 200
generation:
  provider: openai
  model: ${POLICYRAG_TEST_MODEL}
  temperature: 0.2
retrieval:
  k: 3
  filter:
    path: metadata.source
    value: leave.txt
  keyword:
    enabled: true
    fields: [content, metadata.source]
atlas:
  timeout: 5s
server:
  debounce: 500ms
`))
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Chunking.Size)
	assert.Equal(t, 0, cfg.Chunking.Overlap)
	assert.Equal(t, "gpt-4o", cfg.Generation.Model)
	require.NotNil(t, cfg.Generation.Temperature)
	assert.InDelta(t, 0.2, *cfg.Generation.Temperature, 1e-9)
	assert.Len(t, cfg.CallOptions(), 1)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.Equal(t, &schema.Filter{Path: "metadata.source", Value: "leave.txt"}, cfg.Filter())
	assert.True(t, cfg.Retrieval.Keyword.Enabled)
	assert.Equal(t, []string{"content", "metadata.source"}, cfg.Retrieval.Keyword.Fields)
	assert.Equal(t, 5*time.Second, cfg.Atlas.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.Debounce)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := config.Parse([]byte("chunking:\n  sise: 10\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrConfig)
}

func TestParse_VectorDisabled(t *testing.T) {
	cfg, err := config.Parse([]byte("retrieval:\n  vector:\n    enabled: false\n  keyword:\n    enabled: true\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Retrieval.Vector.IsEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative chunk size", "chunking:\n  size: -1\n"},
		{"overlap not below size", "chunking:\n  size: 10\n  overlap: 10\n"},
		{"negative overlap", "chunking:\n  overlap: -5\n"},
		{"k below one", "retrieval:\n  k: -2\n"},
		{"memory below one", "memory:\n  max_turns: -1\n"},
		{"unknown embedding provider", "embedding:\n  provider: word2vec\n"},
		{"unknown generation provider", "generation:\n  provider: eliza\n"},
		{"unknown vector backend", "retrieval:\n  vector:\n    backend: faiss\n"},
		{"no retrieval path", "retrieval:\n  vector:\n    enabled: false\n"},
		{"pgvector without dsn", "retrieval:\n  vector:\n    backend: pgvector\n"},
		{"atlas without uri", "retrieval:\n  vector:\n    backend: atlas\n"},
		{"filter without path", "retrieval:\n  filter:\n    value: x\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrConfig)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	_, err := config.Parse([]byte("retrieval:\n  k: -1\nmemory:\n  max_turns: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.k")
	assert.Contains(t, err.Error(), "memory.max_turns")
}

func TestProviderConfig_APIKey(t *testing.T) {
	key, err := config.ProviderConfig{}.APIKey()
	require.NoError(t, err)
	assert.Empty(t, key)

	t.Setenv("POLICYRAG_TEST_KEY", " secret ")
	key, err = config.ProviderConfig{APIKeyEnv: "POLICYRAG_TEST_KEY"}.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	_, err = config.ProviderConfig{APIKeyEnv: "POLICYRAG_TEST_UNSET_KEY"}.APIKey()
	assert.ErrorIs(t, err, schema.ErrConfig)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policybot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  k: 2\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retrieval.K)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, schema.ErrConfig)
}

func TestNewLogger(t *testing.T) {
	cfg, err := config.Parse([]byte("logging:\n  level: debug\n  format: json\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	cfg.NewLogger(&buf).Debug("hello", "k", 4)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":4`)
}

func TestBuild_LocalStack(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Documents.Path = dir
	cfg.Retrieval.Keyword.Enabled = true
	cfg.Retrieval.Keyword.SQLite.Path = filepath.Join(dir, "keyword.db")
	require.NoError(t, cfg.Validate())

	app, err := cfg.Build(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })

	assert.NotNil(t, app.Embedder)
	assert.NotNil(t, app.Store)
	assert.True(t, app.Keyword.Enabled())
	assert.True(t, app.Retriever.Ready())
	assert.NotNil(t, app.Chain)
	assert.NotNil(t, app.Ingestion)
	assert.Equal(t, dir, app.Loader.Root())
}

func TestBuild_MissingCredential(t *testing.T) {
	cfg := config.Default()
	cfg.Generation.Provider = config.ProviderOpenAI
	cfg.Generation.APIKeyEnv = "POLICYRAG_TEST_UNSET_KEY"

	_, err := cfg.Build(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrConfig)
}
