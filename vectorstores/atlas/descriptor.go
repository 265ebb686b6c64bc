package atlas

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/sevigo/policyrag/schema"
)

const (
	EmbeddingPath = "embedding"
	ContentPath   = "content"
	MetadataPath  = "metadata"
)

// IndexDescriptor names the remote search index of one corpus and the
// fields it maps.
type IndexDescriptor struct {
	Name        string   `yaml:"name"`
	Database    string   `yaml:"database"`
	Collection  string   `yaml:"collection"`
	Dimensions  int      `yaml:"dimensions"`
	FilterPaths []string `yaml:"filter_paths"`
}

func (d IndexDescriptor) Validate() error {
	var missing []string
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.Database == "" {
		missing = append(missing, "database")
	}
	if d.Collection == "" {
		missing = append(missing, "collection")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: atlas index descriptor is missing %s", schema.ErrConfig, strings.Join(missing, ", "))
	}
	if d.Dimensions < 0 {
		return fmt.Errorf("%w: atlas index dimensions must not be negative", schema.ErrConfig)
	}
	return nil
}

// Definition returns the search index mapping: chunk text as a string field,
// the embedding as a cosine knnVector, and filterable metadata as tokens.
// The vector field is omitted when Dimensions is zero.
func (d IndexDescriptor) Definition() bson.M {
	fields := bson.M{
		ContentPath: bson.M{"type": "string"},
	}
	if d.Dimensions > 0 {
		fields[EmbeddingPath] = bson.M{
			"type":       "knnVector",
			"dimensions": d.Dimensions,
			"similarity": "cosine",
		}
	}

	metaFields := bson.M{}
	for _, p := range d.FilterPaths {
		metaFields[metadataField(p)] = bson.A{
			bson.M{"type": "token"},
			bson.M{"type": "number"},
		}
	}
	fields[MetadataPath] = bson.M{
		"type":    "document",
		"dynamic": true,
		"fields":  metaFields,
	}

	return bson.M{
		"mappings": bson.M{
			"dynamic": false,
			"fields":  fields,
		},
	}
}

func metadataField(path string) string {
	return strings.TrimPrefix(path, MetadataPath+".")
}

// metadataPath returns the document path of a filter field.
func metadataPath(path string) string {
	return MetadataPath + "." + metadataField(path)
}
