// Package documentloaders reads policy documents from disk into
// schema.Document values ready for splitting.
package documentloaders

import (
	"context"

	"github.com/sevigo/policyrag/schema"
)

// Loader produces the source documents of one corpus.
type Loader interface {
	Load(ctx context.Context) ([]schema.Document, error)
}

// Metadata keys set by the loaders in addition to schema.MetadataSource.
const (
	MetadataFileType = "file_type"
	MetadataFileSize = "file_size"
	MetadataModTime  = "mod_time"
)

// File types reported in MetadataFileType.
const (
	FileTypeText = "text"
	FileTypeCSV  = "csv"
	FileTypeTSV  = "tsv"
)
