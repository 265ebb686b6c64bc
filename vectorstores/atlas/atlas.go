// Package atlas stores chunks in a MongoDB Atlas collection and queries them
// through an Atlas Search index: knnBeta for nearest neighbors and text for
// keyword search. Each call connects, runs one operation, and disconnects.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

const (
	defaultTimeout      = 30 * time.Second
	codeNamespaceExists = 48
)

type chunkDocument struct {
	ID        string         `bson:"_id"`
	Content   string         `bson:"content"`
	Metadata  map[string]any `bson:"metadata"`
	Embedding []float32      `bson:"embedding,omitempty"`
	Position  int            `bson:"position"`
}

type searchResult struct {
	Content  string         `bson:"content"`
	Metadata map[string]any `bson:"metadata"`
	Score    float64        `bson:"score"`
}

type Store struct {
	uri     string
	index   IndexDescriptor
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ vectorstores.VectorStore = (*Store)(nil)
	_ keywordindex.Backend     = (*Store)(nil)
	_ keywordindex.Writer      = (*Store)(nil)
)

type Option func(*Store)

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(uri string, index IndexDescriptor, opts ...Option) (*Store, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%w: atlas connection URI is required", schema.ErrConfig)
	}
	if err := index.Validate(); err != nil {
		return nil, err
	}
	s := &Store{uri: uri, index: index, timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "atlas_store", "index", index.Name, "collection", index.Collection)
	return s, nil
}

func (s *Store) withClient(ctx context.Context, fn func(*mongo.Client, *mongo.Collection) error) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri).SetTimeout(s.timeout))
	if err != nil {
		return fmt.Errorf("atlas connect: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "Atlas disconnect failed", "error", err)
		}
	}()
	return fn(client, client.Database(s.index.Database).Collection(s.index.Collection))
}

// ReplaceAll swaps the collection contents in one transaction. The search
// index catches up asynchronously.
func (s *Store) ReplaceAll(ctx context.Context, chunks []schema.Chunk) error {
	if _, err := vectorstores.CorpusDimension(chunks); err != nil {
		return err
	}
	docs := make([]any, len(chunks))
	for i, c := range chunks {
		docs[i] = chunkDocument{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: c.Embedding,
			Position:  i,
		}
	}

	start := time.Now()
	err := s.withClient(ctx, func(client *mongo.Client, coll *mongo.Collection) error {
		session, err := client.StartSession()
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
			if _, err := coll.DeleteMany(sc, bson.D{}); err != nil {
				return nil, fmt.Errorf("clear collection: %w", err)
			}
			if len(docs) == 0 {
				return nil, nil
			}
			if _, err := coll.InsertMany(sc, docs); err != nil {
				return nil, fmt.Errorf("insert chunks: %w", err)
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Replaced chunk set", "count", len(chunks), "duration", time.Since(start))
	return nil
}

// NearestNeighbors runs knnBeta and reports cosine similarity in [-1, 1].
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int, searchOpts ...vectorstores.Option) ([]schema.SearchHit, error) {
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}
	if s.index.Dimensions > 0 && len(query) != s.index.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			vectorstores.ErrDimensionMismatch, len(query), s.index.Dimensions)
	}
	opts := vectorstores.ParseOptions(searchOpts...)

	results, err := s.aggregate(ctx, searchPipeline(s.index.Name, knnClause(query, k, opts.Filter), k))
	if err != nil {
		return nil, err
	}
	hits := make([]schema.SearchHit, 0, len(results))
	for _, r := range results {
		score := cosineFromKNN(r.Score)
		if opts.ScoreThreshold != nil && score < *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, schema.SearchHit{Content: r.Content, Metadata: r.Metadata, Score: score})
	}
	return hits, nil
}

// Search runs a text match over fields. Fields other than the chunk text
// are resolved under metadata.
func (s *Store) Search(ctx context.Context, query string, fields []string, limit int, filter *schema.Filter) ([]schema.SearchHit, error) {
	paths := make([]string, len(fields))
	for i, f := range fields {
		if f == ContentPath {
			paths[i] = f
			continue
		}
		paths[i] = metadataPath(f)
	}
	if len(paths) == 0 {
		paths = []string{ContentPath}
	}

	results, err := s.aggregate(ctx, searchPipeline(s.index.Name, textClause(query, paths, filter), limit))
	if err != nil {
		return nil, err
	}
	hits := make([]schema.SearchHit, len(results))
	for i, r := range results {
		hits[i] = schema.SearchHit{Content: r.Content, Metadata: r.Metadata, Score: float32(r.Score)}
	}
	return hits, nil
}

func (s *Store) aggregate(ctx context.Context, pipeline []bson.D) ([]searchResult, error) {
	var results []searchResult
	start := time.Now()
	err := s.withClient(ctx, func(_ *mongo.Client, coll *mongo.Collection) error {
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return fmt.Errorf("atlas search: %w", err)
		}
		return cursor.All(ctx, &results)
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Atlas search", "results", len(results), "duration", time.Since(start))
	return results, nil
}

// Provision creates the collection and the search index described by the
// descriptor. Existing ones are left untouched.
func (s *Store) Provision(ctx context.Context) error {
	return s.withClient(ctx, func(client *mongo.Client, coll *mongo.Collection) error {
		err := client.Database(s.index.Database).CreateCollection(ctx, s.index.Collection)
		var cmdErr mongo.CommandError
		if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists) {
			return fmt.Errorf("create collection: %w", err)
		}

		view := coll.SearchIndexes()
		cursor, err := view.List(ctx, options.SearchIndexes().SetName(s.index.Name))
		if err != nil {
			return fmt.Errorf("list search indexes: %w", err)
		}
		var existing []bson.M
		if err := cursor.All(ctx, &existing); err != nil {
			return fmt.Errorf("list search indexes: %w", err)
		}
		if slices.ContainsFunc(existing, func(m bson.M) bool { return m["name"] == s.index.Name }) {
			s.logger.InfoContext(ctx, "Search index already exists")
			return nil
		}

		name, err := view.CreateOne(ctx, mongo.SearchIndexModel{
			Definition: s.index.Definition(),
			Options:    options.SearchIndexes().SetName(s.index.Name),
		})
		if err != nil {
			return fmt.Errorf("create search index: %w", err)
		}
		s.logger.InfoContext(ctx, "Created search index", "name", name, "dimensions", s.index.Dimensions)
		return nil
	})
}
