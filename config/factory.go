package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sevigo/policyrag/chains"
	"github.com/sevigo/policyrag/documentloaders"
	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/embeddings/fastapi"
	"github.com/sevigo/policyrag/ingestion"
	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/keywordindex/sqlite"
	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/llms/anthropic"
	"github.com/sevigo/policyrag/llms/gemini"
	"github.com/sevigo/policyrag/llms/ollama"
	"github.com/sevigo/policyrag/llms/openai"
	"github.com/sevigo/policyrag/memory"
	"github.com/sevigo/policyrag/retrievers"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/textsplitter"
	"github.com/sevigo/policyrag/vectorstores"
	"github.com/sevigo/policyrag/vectorstores/atlas"
	memstore "github.com/sevigo/policyrag/vectorstores/memory"
	"github.com/sevigo/policyrag/vectorstores/pgvector"
	"github.com/sevigo/policyrag/vectorstores/qdrant"
)

const (
	defaultOllamaModel          = "llama3.2"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// App is the wired assistant: the answer pipeline, the ingestion pipeline
// and the stores behind them.
type App struct {
	Config    *Config
	Logger    *slog.Logger
	Embedder  *embeddings.EmbedderImpl
	Model     llms.Model
	Store     vectorstores.VectorStore
	Keyword   *keywordindex.Index
	Retriever *retrievers.Hybrid
	Chain     *chains.ConversationalRetrievalQA
	Loader    *documentloaders.DirectoryLoader
	Ingestion *ingestion.Pipeline

	closers []func() error
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build constructs every component. Construction errors are config errors
// and abort startup; nothing is ingested yet.
func (c *Config) Build(ctx context.Context, logger *slog.Logger) (app *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app = &App{Config: c, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	vectorOn := c.Retrieval.Vector.IsEnabled()

	if vectorOn {
		if app.Embedder, err = c.NewEmbedder(ctx, logger); err != nil {
			return app, err
		}
		if app.Store, err = c.newVectorStore(ctx, app, logger); err != nil {
			return app, err
		}
	}

	keywordBackend, keywordWriter, err := c.newKeywordBackend(app, logger)
	if err != nil {
		return app, err
	}
	app.Keyword, err = keywordindex.New(keywordBackend,
		keywordindex.WithEnabled(c.Retrieval.Keyword.Enabled),
		keywordindex.WithDefaultFields(c.Retrieval.Keyword.Fields...),
		keywordindex.WithLogger(logger),
	)
	if err != nil {
		return app, err
	}

	var queryEmbedder retrievers.QueryEmbedder
	if app.Embedder != nil {
		queryEmbedder = app.Embedder
	}
	app.Retriever, err = retrievers.NewHybrid(queryEmbedder, app.Store,
		retrievers.WithK(c.Retrieval.K),
		retrievers.WithVectorSearch(vectorOn),
		retrievers.WithKeywordIndex(app.Keyword),
		retrievers.WithKeywordFields(c.Retrieval.Keyword.Fields...),
		retrievers.WithFilter(c.Filter()),
		retrievers.WithScoreThreshold(c.Retrieval.Vector.ScoreThreshold),
		retrievers.WithLogger(logger),
	)
	if err != nil {
		return app, err
	}

	if app.Model, err = c.NewModel(ctx, logger); err != nil {
		return app, err
	}

	buffer := memory.NewConversationBuffer()
	if err = buffer.SetMaxTurns(c.Memory.MaxTurns); err != nil {
		return app, err
	}
	app.Chain, err = chains.NewConversationalRetrievalQA(app.Retriever, app.Model,
		chains.WithMemory(buffer),
		chains.WithCallOptions(c.CallOptions()...),
		chains.WithLogger(logger),
	)
	if err != nil {
		return app, err
	}

	app.Loader = documentloaders.NewDirectory(c.Documents.Path,
		documentloaders.WithMaxFileSize(c.Documents.MaxFileSize),
		documentloaders.WithLogger(logger),
	)
	splitter, err := c.NewSplitter(logger)
	if err != nil {
		return app, err
	}

	ingestOpts := []ingestion.Option{ingestion.WithLogger(logger)}
	if app.Store != nil {
		ingestOpts = append(ingestOpts, ingestion.WithEmbedder(app.Embedder), ingestion.WithVectorStore(app.Store))
	}
	if keywordWriter != nil {
		ingestOpts = append(ingestOpts, ingestion.WithKeywordWriter(keywordWriter))
	}
	app.Ingestion, err = ingestion.New(app.Loader, splitter, ingestOpts...)
	if err != nil {
		return app, err
	}

	logger.InfoContext(ctx, "Assistant configured",
		"embedding_provider", c.Embedding.Provider,
		"generation_provider", c.Generation.Provider,
		"vector_enabled", vectorOn,
		"vector_backend", c.Retrieval.Vector.Backend,
		"keyword_enabled", c.Retrieval.Keyword.Enabled,
		"keyword_backend", c.Retrieval.Keyword.Backend,
		"k", c.Retrieval.K,
	)
	return app, nil
}

func (c *Config) NewSplitter(logger *slog.Logger) (*textsplitter.RecursiveCharacter, error) {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.Chunking.Size),
		textsplitter.WithChunkOverlap(c.Chunking.Overlap),
		textsplitter.WithLogger(logger),
	)
}

// CallOptions returns the generation options from the config.
func (c *Config) CallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.Generation.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*c.Generation.Temperature))
	}
	if c.Generation.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.Generation.MaxTokens))
	}
	return opts
}

// NewEmbeddingProvider constructs the raw provider named in the embedding section.
func (c *Config) NewEmbeddingProvider(ctx context.Context, logger *slog.Logger) (embeddings.Provider, error) {
	e := c.Embedding
	key, err := e.APIKey()
	if err != nil {
		return nil, err
	}

	switch e.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithAPIKey(key),
			openai.WithEmbeddingModel(e.Model),
			openai.WithLogger(logger),
		}
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if e.Dimension > 0 {
			opts = append(opts, openai.WithDimensions(e.Dimension))
		}
		return openai.New(opts...)
	case ProviderOllama:
		model := e.Model
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(e.BaseURL), ollama.WithTruncate(true), ollama.WithLogger(logger))
	case ProviderGemini:
		return gemini.New(ctx,
			gemini.WithAPIKey(key),
			gemini.WithEmbeddingModel(e.Model),
			gemini.WithDimensions(e.Dimension),
			gemini.WithLogger(logger),
		)
	case ProviderFastAPI:
		opts := []fastapi.Option{fastapi.WithLogger(logger)}
		if key != "" {
			opts = append(opts, fastapi.WithAPIKey(key))
		}
		if e.Task != "" {
			opts = append(opts, fastapi.WithTask(e.Task))
		}
		return fastapi.New(e.BaseURL, opts...)
	}
	return nil, fmt.Errorf("%w: unknown embedding provider %q", schema.ErrConfig, e.Provider)
}

// NewEmbedder wraps the provider in the batching, rate limited adapter.
func (c *Config) NewEmbedder(ctx context.Context, logger *slog.Logger) (*embeddings.EmbedderImpl, error) {
	provider, err := c.NewEmbeddingProvider(ctx, logger)
	if err != nil {
		return nil, err
	}

	e := c.Embedding
	opts := []embeddings.Option{
		embeddings.WithBatchSize(e.BatchSize),
		embeddings.WithLogger(logger),
	}
	if e.MaxConcurrency > 0 {
		opts = append(opts, embeddings.WithMaxConcurrency(e.MaxConcurrency))
	}
	if e.Dimension > 0 {
		opts = append(opts, embeddings.WithDimension(e.Dimension))
	}
	if limiter := c.rateLimiter(); limiter != nil {
		opts = append(opts, embeddings.WithRateLimiter(limiter))
	}
	return embeddings.NewEmbedder(provider, opts...)
}

func (c *Config) rateLimiter() *rate.Limiter {
	rps := c.Embedding.RequestsPerSecond
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}

// NewModel constructs the generation provider.
func (c *Config) NewModel(ctx context.Context, logger *slog.Logger) (llms.Model, error) {
	g := c.Generation
	key, err := g.APIKey()
	if err != nil {
		return nil, err
	}

	switch g.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithAPIKey(key), openai.WithModel(g.Model), openai.WithLogger(logger)}
		if g.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(g.BaseURL))
		}
		return openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(key), anthropic.WithModel(g.Model), anthropic.WithLogger(logger)}
		if g.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(g.BaseURL))
		}
		if g.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(g.MaxTokens))
		}
		return anthropic.New(opts...)
	case ProviderOllama:
		model := g.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(g.BaseURL), ollama.WithLogger(logger))
	case ProviderGemini:
		return gemini.New(ctx, gemini.WithAPIKey(key), gemini.WithModel(g.Model), gemini.WithLogger(logger))
	}
	return nil, fmt.Errorf("%w: unknown generation provider %q", schema.ErrConfig, g.Provider)
}

func (c *Config) newVectorStore(ctx context.Context, app *App, logger *slog.Logger) (vectorstores.VectorStore, error) {
	v := c.Retrieval.Vector
	switch v.Backend {
	case BackendMemory:
		return memstore.New(memstore.WithLogger(logger)), nil
	case BackendQdrant:
		opts := []qdrant.Option{
			qdrant.WithCollectionName(v.Qdrant.Collection),
			qdrant.WithKeepPrevious(v.Qdrant.KeepPrevious),
			qdrant.WithLogger(logger),
		}
		if v.Qdrant.URL != "" {
			u, err := url.Parse(v.Qdrant.URL)
			if err != nil {
				return nil, fmt.Errorf("%w: retrieval.vector.qdrant.url: %w", schema.ErrConfig, err)
			}
			opts = append(opts, qdrant.WithURL(*u), qdrant.WithTLS(strings.EqualFold(u.Scheme, "https")))
		}
		if v.Qdrant.APIKeyEnv != "" {
			key, err := ProviderConfig{APIKeyEnv: v.Qdrant.APIKeyEnv}.APIKey()
			if err != nil {
				return nil, err
			}
			opts = append(opts, qdrant.WithAPIKey(key))
		}
		if v.Qdrant.BatchSize > 0 {
			opts = append(opts, qdrant.WithBatchSize(v.Qdrant.BatchSize))
		}
		store, err := qdrant.New(opts...)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	case BackendPGVector:
		opts := []pgvector.Option{pgvector.WithLogger(logger)}
		if v.PGVector.Table != "" {
			opts = append(opts, pgvector.WithTable(v.PGVector.Table))
		}
		store, err := pgvector.New(ctx, v.PGVector.DSN, opts...)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	case BackendAtlas:
		return c.atlasStore(app, logger)
	}
	return nil, fmt.Errorf("%w: unknown vector backend %q", schema.ErrConfig, v.Backend)
}

// newKeywordBackend returns nil values when keyword search is disabled.
func (c *Config) newKeywordBackend(app *App, logger *slog.Logger) (keywordindex.Backend, keywordindex.Writer, error) {
	k := c.Retrieval.Keyword
	if !k.Enabled {
		return nil, nil, nil
	}
	switch k.Backend {
	case BackendSQLite:
		opts := []sqlite.Option{sqlite.WithLogger(logger)}
		if k.SQLite.Table != "" {
			opts = append(opts, sqlite.WithTable(k.SQLite.Table))
		}
		backend, err := sqlite.New(k.SQLite.Path, opts...)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend, nil
	case BackendAtlas:
		store, err := c.atlasStore(app, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown keyword backend %q", schema.ErrConfig, k.Backend)
}

// atlasStore returns one shared store for the vector and keyword paths.
func (c *Config) atlasStore(app *App, logger *slog.Logger) (*atlas.Store, error) {
	if s, ok := app.Store.(*atlas.Store); ok {
		return s, nil
	}
	return c.NewAtlasStore(logger)
}

func (c *Config) NewAtlasStore(logger *slog.Logger) (*atlas.Store, error) {
	opts := []atlas.Option{atlas.WithLogger(logger)}
	if c.Atlas.Timeout > 0 {
		opts = append(opts, atlas.WithTimeout(c.Atlas.Timeout))
	}
	return atlas.New(c.Atlas.URI, c.Atlas.Index, opts...)
}
