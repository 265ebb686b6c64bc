// Package pgvector stores chunks in a PostgreSQL table with a pgvector
// column. ReplaceAll runs in one transaction, so concurrent readers keep
// seeing the previous rows until it commits.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

const defaultTable = "policy_chunks"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

type Store struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

var _ vectorstores.VectorStore = (*Store)(nil)

type Option func(*Store)

func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
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

// New connects to dsn and creates the vector extension and chunk table when
// missing.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{table: defaultTable, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNamePattern.MatchString(s.table) {
		return nil, fmt.Errorf("%w: invalid pgvector table name %q", schema.ErrConfig, s.table)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: pgvector dsn is required", schema.ErrConfig)
	}
	s.logger = s.logger.With("component", "pgvector_store", "table", s.table)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			position  INTEGER PRIMARY KEY,
			id        TEXT NOT NULL,
			content   TEXT NOT NULL,
			metadata  JSONB NOT NULL DEFAULT '{}',
			embedding vector
		)`, s.table),
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ReplaceAll(ctx context.Context, chunks []schema.Chunk) error {
	if _, err := vectorstores.CorpusDimension(chunks); err != nil {
		return err
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (position, id, content, metadata, embedding) VALUES ($1, $2, $3, $4, $5::vector)`, s.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of chunk %s: %w", c.ID, err)
		}
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = formatVector(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, i, c.ID, c.Content, metadata, embedding); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.InfoContext(ctx, "Replaced chunk set", "count", len(chunks), "duration", time.Since(start))
	return nil
}

func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int, options ...vectorstores.Option) ([]schema.SearchHit, error) {
	if err := vectorstores.ValidateK(k); err != nil {
		return nil, err
	}
	opts := vectorstores.ParseOptions(options...)

	stmt, args, err := buildSearchQuery(s.table, query, k, opts)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		if strings.Contains(err.Error(), "different vector dimensions") {
			return nil, fmt.Errorf("%w: %w", vectorstores.ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	hits := []schema.SearchHit{}
	for rows.Next() {
		var (
			content       string
			metadataBytes []byte
			score         float64
		)
		if err := rows.Scan(&content, &metadataBytes, &score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		hit := schema.SearchHit{Content: content, Score: normalizeScore(score)}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// buildSearchQuery orders by cosine distance; ties fall back to insertion
// position. The equality filter uses jsonb containment, which compares
// numbers by value.
func buildSearchQuery(table string, query []float32, k int, opts vectorstores.Options) (string, []any, error) {
	args := []any{formatVector(query)}
	where := []string{"embedding IS NOT NULL"}

	if opts.Filter != nil {
		contains, err := json.Marshal(map[string]any{vectorstores.FilterField(opts.Filter.Path): opts.Filter.Value})
		if err != nil {
			return "", nil, fmt.Errorf("%w: encode filter: %w", schema.ErrConfig, err)
		}
		args = append(args, string(contains))
		where = append(where, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}
	if opts.ScoreThreshold != nil {
		args = append(args, float64(*opts.ScoreThreshold))
		where = append(where, fmt.Sprintf("1 - (embedding <=> $1::vector) >= $%d", len(args)))
	}
	args = append(args, k)

	stmt := fmt.Sprintf(`SELECT content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1::vector, position
		LIMIT $%d`, table, strings.Join(where, " AND "), len(args))
	return stmt, args, nil
}

// formatVector renders v in pgvector text form: "[0.1,0.2,0.3]".
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// normalizeScore maps the NaN pgvector yields for zero vectors to 0 and
// clamps rounding drift.
func normalizeScore(score float64) float32 {
	switch {
	case math.IsNaN(score):
		return 0
	case score > 1:
		return 1
	case score < -1:
		return -1
	}
	return float32(score)
}
