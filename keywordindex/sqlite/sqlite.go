// Package sqlite implements a local BM25 keyword backend on SQLite FTS5.
// Every call opens the database, runs, and closes it again.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sevigo/policyrag/keywordindex"
	"github.com/sevigo/policyrag/schema"
	"github.com/sevigo/policyrag/vectorstores"
)

const (
	defaultTable = "policy_chunks_fts"
	dsnPragmas   = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

// columns maps accepted search fields to FTS5 columns.
var columns = map[string]string{
	"content":         "content",
	"source":          "source",
	"metadata.source": "source",
}

type Backend struct {
	path   string
	table  string
	logger *slog.Logger
}

var (
	_ keywordindex.Backend = (*Backend)(nil)
	_ keywordindex.Writer  = (*Backend)(nil)
)

type Option func(*Backend)

func WithTable(name string) Option {
	return func(b *Backend) {
		if name != "" {
			b.table = name
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func New(path string, opts ...Option) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite keyword index path is required", schema.ErrConfig)
	}
	b := &Backend{path: path, table: defaultTable, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	for _, r := range b.table {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return nil, fmt.Errorf("%w: invalid sqlite table name %q", schema.ErrConfig, b.table)
		}
	}
	b.logger = b.logger.With("component", "sqlite_keyword_index", "path", path)
	return b, nil
}

func (b *Backend) open(ctx context.Context) (*sql.DB, error) {
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", b.path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("opening keyword index: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
		content,
		source,
		metadata UNINDEXED,
		position UNINDEXED
	)`, b.table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating fts5 table: %w", err)
	}
	return db, nil
}

// ReplaceAll swaps the indexed chunk set inside one transaction.
func (b *Backend) ReplaceAll(ctx context.Context, chunks []schema.Chunk) error {
	start := time.Now()
	db, err := b.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, b.table)); err != nil {
		return fmt.Errorf("clearing keyword index: %w", err)
	}
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (content, source, metadata, position) VALUES (?, ?, ?, ?)`, b.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	for i, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of chunk %s: %w", c.ID, err)
		}
		if _, err := insert.ExecContext(ctx, c.Content, c.Source(), string(metadata), i); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	b.logger.InfoContext(ctx, "Replaced keyword index", "count", len(chunks), "duration", time.Since(start))
	return nil
}

// Search ranks matches with bm25. Scores are negated so larger is better.
func (b *Backend) Search(ctx context.Context, query string, fields []string, limit int, filter *schema.Filter) ([]schema.SearchHit, error) {
	stmt, args, err := buildQuery(b.table, query, fields, limit, filter)
	if err != nil {
		return nil, err
	}
	if stmt == "" {
		return []schema.SearchHit{}, nil
	}

	db, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("fts5 query: %w", err)
	}
	defer rows.Close()

	hits := []schema.SearchHit{}
	for rows.Next() {
		var (
			content  string
			metadata string
			rank     float64
		)
		if err := rows.Scan(&content, &metadata, &rank); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		hit := schema.SearchHit{Content: content, Score: float32(-rank)}
		if err := json.Unmarshal([]byte(metadata), &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// buildQuery returns an empty statement when the query has no searchable
// terms.
func buildQuery(table, query string, fields []string, limit int, filter *schema.Filter) (string, []any, error) {
	match, err := matchExpression(query, fields)
	if err != nil || match == "" {
		return "", nil, err
	}

	args := []any{match}
	where := table + " MATCH ?"
	if filter != nil {
		field := vectorstores.FilterField(filter.Path)
		if strings.ContainsAny(field, `"\`) {
			return "", nil, fmt.Errorf("%w: invalid filter path %q", schema.ErrConfig, filter.Path)
		}
		args = append(args, `$."`+field+`"`, filterValue(filter.Value))
		where += " AND json_extract(metadata, ?) = ?"
	}
	args = append(args, limit)

	stmt := fmt.Sprintf(`SELECT content, metadata, bm25(%s) AS bm25_score
		FROM %s
		WHERE %s
		ORDER BY bm25_score, CAST(position AS INTEGER)
		LIMIT ?`, table, table, where)
	return stmt, args, nil
}

// matchExpression builds an FTS5 query that matches any term of query in
// the given columns. Terms are quoted so punctuation never reaches the FTS5
// parser.
func matchExpression(query string, fields []string) (string, error) {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		col, ok := columns[f]
		if !ok {
			return "", fmt.Errorf("%w: unknown keyword field %q", schema.ErrConfig, f)
		}
		cols = append(cols, col)
	}

	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return "", nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	expr := strings.Join(quoted, " OR ")
	if len(cols) == 0 {
		return expr, nil
	}
	return "{" + strings.Join(cols, " ") + "} : (" + expr + ")", nil
}

func filterValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
