package documentloaders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sevigo/policyrag/schema"
)

const defaultMaxFileSize = 10 * 1024 * 1024

var ErrNotDirectory = fmt.Errorf("%w: document path is not a directory", schema.ErrConfig)

// DirectoryLoader walks a directory tree and loads every .txt, .csv and .tsv
// file. Text files become one document each; every CSV row becomes its own
// document. Sources are slash-separated paths relative to the root, and
// documents are returned in lexical path order.
type DirectoryLoader struct {
	root        string
	maxFileSize int64
	logger      *slog.Logger
}

var _ Loader = (*DirectoryLoader)(nil)

type Option func(*DirectoryLoader)

func WithLogger(logger *slog.Logger) Option {
	return func(l *DirectoryLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxFileSize skips files larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(l *DirectoryLoader) {
		if n > 0 {
			l.maxFileSize = n
		}
	}
}

func NewDirectory(root string, opts ...Option) *DirectoryLoader {
	l := &DirectoryLoader{
		root:        root,
		maxFileSize: defaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "directory_loader")
	return l
}

// Root returns the directory the loader walks.
func (l *DirectoryLoader) Root() string { return l.root }

// Load walks the root directory. Unreadable files are skipped with a warning;
// a missing root is a config error.
func (l *DirectoryLoader) Load(ctx context.Context) ([]schema.Document, error) {
	start := time.Now()

	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, l.root)
	}

	var documents []schema.Document
	files := 0
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == l.root {
				return err
			}
			l.logger.WarnContext(ctx, "Skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path != l.root && shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		fileType, ok := fileTypeOf(path)
		if !ok {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			l.logger.WarnContext(ctx, "Could not get file info, skipping", "path", path, "error", err)
			return nil
		}
		if fileInfo.Size() > l.maxFileSize {
			l.logger.WarnContext(ctx, "Skipping oversized file", "path", path, "size", fileInfo.Size())
			return nil
		}

		docs, err := l.loadFile(path, fileType, fileInfo)
		if err != nil {
			l.logger.WarnContext(ctx, "Cannot load file, skipping", "path", path, "error", err)
			return nil
		}
		files++
		documents = append(documents, docs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Loaded documents",
		"root", l.root,
		"files", files,
		"documents", len(documents),
		"duration", time.Since(start),
	)
	return documents, nil
}

func (l *DirectoryLoader) loadFile(path, fileType string, info fs.FileInfo) ([]schema.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		rel = path
	}
	base := map[string]any{
		schema.MetadataSource: filepath.ToSlash(rel),
		MetadataFileType:      fileType,
		MetadataFileSize:      info.Size(),
		MetadataModTime:       info.ModTime().UTC().Format(time.RFC3339),
	}

	if fileType == FileTypeText {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return []schema.Document{schema.NewDocument(text, base)}, nil
	}

	rows, err := ParseRows(text, detectDelimiter(text, fileType))
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		metadata := maps.Clone(base)
		metadata[schema.MetadataRow] = row.Number
		docs = append(docs, schema.NewDocument(row.Text, metadata))
	}
	return docs, nil
}

// decodeText strips a UTF-8 or UTF-16 byte order mark, decodes to UTF-8 and
// normalizes to NFC.
func decodeText(raw []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), decoder))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return norm.NFC.String(string(decoded)), nil
}

// Supported reports whether the loader reads files with the extension of path.
func Supported(path string) bool {
	_, ok := fileTypeOf(path)
	return ok
}

func fileTypeOf(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return FileTypeText, true
	case ".csv":
		return FileTypeCSV, true
	case ".tsv":
		return FileTypeTSV, true
	}
	return "", false
}

// SkipDir reports whether directories with this name are never walked.
func SkipDir(name string) bool {
	return shouldSkipDir(name)
}

func shouldSkipDir(name string) bool {
	skipDirs := []string{
		".git", ".svn", ".hg",
		"node_modules", "__pycache__",
		".vscode", ".idea",
	}
	return slices.Contains(skipDirs, name)
}
