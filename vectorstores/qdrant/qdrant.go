// Package qdrant stores chunks in a Qdrant collection addressed through an
// alias. ReplaceAll fills a fresh collection and then repoints the alias in
// one request, so searches move from the old set to the new one at once.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

const (
	chunkIDKey            = "chunk_id"
	defaultMaxConcurrency = 4
	defaultRetryDelay     = time.Second
	defaultMaxRetryDelay  = 30 * time.Second
)

var ErrNoEmbeddings = fmt.Errorf("%w: qdrant: chunk set has no embeddings", schema.ErrConsistency)

type Store struct {
	client     *qdrant.Client
	alias      string
	contentKey string
	logger     *slog.Logger
	options    options

	writeMu sync.Mutex
}

var _ vectorstores.VectorStore = (*Store)(nil)

func New(opts ...Option) (*Store, error) {
	o, err := parseOptions(opts...)
	if err != nil {
		return nil, err
	}
	cfg, err := o.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	logger := o.logger.With("component", "qdrant_store", "collection", o.alias)
	logger.Info("Qdrant store initialized", "options", o)
	return &Store{
		client:     client,
		alias:      o.alias,
		contentKey: o.contentKey,
		logger:     logger,
		options:    o,
	}, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ReplaceAll(ctx context.Context, chunks []schema.Chunk) error {
	dim, err := vectorstores.CorpusDimension(chunks)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	previous, err := s.aliasTarget(ctx)
	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		if err := s.dropAlias(ctx, previous); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "Replaced chunk set with an empty corpus", "previous_collection", previous)
		return nil
	}
	if dim == 0 {
		return ErrNoEmbeddings
	}

	next := s.alias + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.createCollection(ctx, next, dim); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			s.logger.WarnContext(ctx, "Skipping chunk without embedding", "chunk_id", c.ID)
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectorsDense(c.Embedding),
			Payload: chunkToPayload(c, s.contentKey),
		})
	}

	if err := s.upsertPointsInBatches(ctx, next, points); err != nil {
		s.deleteCollection(context.WithoutCancel(ctx), next)
		return err
	}
	if err := s.swapAlias(ctx, previous, next); err != nil {
		s.deleteCollection(context.WithoutCancel(ctx), next)
		return err
	}
	if previous != "" && !s.options.keepPrevious {
		s.deleteCollection(ctx, previous)
	}

	s.logger.InfoContext(ctx, "Replaced chunk set",
		"count", len(points),
		"dimension", dim,
		"live_collection", next,
		"previous_collection", previous,
		"duration", time.Since(start),
	)
	return nil
}

func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int, options ...vectorstores.Option) ([]schema.SearchHit, error) {
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}
	opts := vectorstores.ParseOptions(options...)

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.alias,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		ScoreThreshold: opts.ScoreThreshold,
		Filter:         buildQdrantFilter(opts.Filter),
	})
	if err != nil {
		if isNotFound(err) {
			s.logger.DebugContext(ctx, "Collection alias not found, returning no hits")
			return []schema.SearchHit{}, nil
		}
		if stat, ok := status.FromError(err); ok && stat.Code() == codes.InvalidArgument &&
			strings.Contains(stat.Message(), "dimension") {
			return nil, fmt.Errorf("%w: %s", vectorstores.ErrDimensionMismatch, stat.Message())
		}
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := resp.GetResult()
	hits := make([]schema.SearchHit, 0, len(results))
	for _, point := range results {
		content, metadata := payloadToChunk(point.GetPayload(), s.contentKey)
		hits = append(hits, schema.SearchHit{Content: content, Metadata: metadata, Score: point.GetScore()})
	}
	s.logger.DebugContext(ctx, "Nearest neighbor search", "hits", len(hits), "k", k, "filter", opts.Filter)
	return hits, nil
}

func (s *Store) aliasTarget(ctx context.Context) (string, error) {
	resp, err := s.client.GetCollectionsClient().ListAliases(ctx, &qdrant.ListAliasesRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to list qdrant aliases: %w", err)
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == s.alias {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (s *Store) createCollection(ctx context.Context, name string, dimension int) error {
	_, err := s.client.GetCollectionsClient().Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) deleteCollection(ctx context.Context, name string) {
	_, err := s.client.GetCollectionsClient().Delete(ctx, &qdrant.DeleteCollection{CollectionName: name})
	if err != nil && !isNotFound(err) {
		s.logger.WarnContext(ctx, "Failed to delete collection", "name", name, "error", err)
	}
}

func (s *Store) swapAlias(ctx context.Context, previous, next string) error {
	_, err := s.client.GetCollectionsClient().UpdateAliases(ctx, &qdrant.ChangeAliases{
		Actions: aliasActions(s.alias, previous, next),
	})
	if err != nil {
		return fmt.Errorf("failed to switch qdrant alias %s to %s: %w", s.alias, next, err)
	}
	return nil
}

func (s *Store) dropAlias(ctx context.Context, previous string) error {
	if previous == "" {
		return nil
	}
	if _, err := s.client.GetCollectionsClient().UpdateAliases(ctx, &qdrant.ChangeAliases{
		Actions: aliasActions(s.alias, previous, ""),
	}); err != nil {
		return fmt.Errorf("failed to drop qdrant alias %s: %w", s.alias, err)
	}
	s.deleteCollection(ctx, previous)
	return nil
}

// aliasActions builds the alias change list. Qdrant applies the actions of a
// single request atomically.
func aliasActions(alias, previous, next string) []*qdrant.AliasOperations {
	var actions []*qdrant.AliasOperations
	if previous != "" {
		actions = append(actions, &qdrant.AliasOperations{
			Action: &qdrant.AliasOperations_DeleteAlias{
				DeleteAlias: &qdrant.DeleteAlias{AliasName: alias},
			},
		})
	}
	if next != "" {
		actions = append(actions, &qdrant.AliasOperations{
			Action: &qdrant.AliasOperations_CreateAlias{
				CreateAlias: &qdrant.CreateAlias{CollectionName: next, AliasName: alias},
			},
		})
	}
	return actions
}

func (s *Store) upsertPointsInBatches(ctx context.Context, collectionName string, points []*qdrant.PointStruct) error {
	batchSize := s.options.batchSize
	numBatches := int(math.Ceil(float64(len(points)) / float64(batchSize)))

	semaphore := make(chan struct{}, defaultMaxConcurrency)
	errs := make([]error, numBatches)
	var wg sync.WaitGroup

	for b := 0; b < numBatches; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			lo := b * batchSize
			hi := min(lo+batchSize, len(points))
			errs[b] = s.upsertWithRetry(ctx, collectionName, points[lo:hi])
		}(b)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("qdrant upsert into %s failed: %w", collectionName, err)
	}
	return nil
}

func (s *Store) upsertWithRetry(ctx context.Context, collectionName string, points []*qdrant.PointStruct) error {
	var lastErr error
	delay := defaultRetryDelay

	for attempt := 0; attempt <= s.options.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(time.Duration(float64(delay)*1.5), defaultMaxRetryDelay)
		}

		wait := true
		_, err := s.client.GetPointsClient().Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collectionName,
			Wait:           &wait,
			Points:         points,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.WarnContext(ctx, "Upsert attempt failed", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("upsert failed after %d attempts: %w", s.options.retryAttempts+1, lastErr)
}

func isNotFound(err error) bool {
	stat, ok := status.FromError(err)
	return ok && stat.Code() == codes.NotFound
}

// pointID returns id when it already is a UUID and a name-based UUID
// derived from it otherwise.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func chunkToPayload(c schema.Chunk, contentKey string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(c.Metadata)+2)
	for key, value := range c.Metadata {
		payload[key] = convertToQdrantValue(value)
	}
	payload[contentKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: c.Content}}
	if c.ID != "" {
		payload[chunkIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: c.ID}}
	}
	return payload
}

func payloadToChunk(payload map[string]*qdrant.Value, contentKey string) (string, map[string]any) {
	var content string
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		switch key {
		case contentKey:
			content = value.GetStringValue()
		case chunkIDKey:
		default:
			metadata[key] = convertFromQdrantValue(value)
		}
	}
	return content, metadata
}

func convertToQdrantValue(value any) *qdrant.Value {
	switch v := value.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(v)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
	case []string:
		values := make([]*qdrant.Value, len(v))
		for i, str := range v {
			values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: str}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}

func convertFromQdrantValue(value *qdrant.Value) any {
	switch v := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(v.ListValue.GetValues()))
		for i, val := range v.ListValue.GetValues() {
			list[i] = convertFromQdrantValue(val)
		}
		return list
	default:
		return nil
	}
}

// buildQdrantFilter translates an equality filter into a payload match.
// Non-integral numbers become a closed range on the single value.
func buildQdrantFilter(f *schema.Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	field := &qdrant.FieldCondition{Key: vectorstores.FilterField(f.Path)}

	switch v := f.Value.(type) {
	case string:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case bool:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	case int:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case float64:
		if v == math.Trunc(v) {
			field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		} else {
			field.Range = &qdrant.Range{Gte: &v, Lte: &v}
		}
	default:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}

	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{ConditionOneOf: &qdrant.Condition_Field{Field: field}},
		},
	}
}
