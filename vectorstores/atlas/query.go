package atlas

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/sevigo/policyrag/schema"
)

// equalsClause matches a single metadata value.
func equalsClause(f *schema.Filter) bson.D {
	return bson.D{{Key: "equals", Value: bson.D{
		{Key: "path", Value: metadataPath(f.Path)},
		{Key: "value", Value: f.Value},
	}}}
}

// knnClause builds the knnBeta operator. The equality filter, when given,
// is applied inside the operator.
func knnClause(vector []float32, k int, filter *schema.Filter) bson.D {
	knn := bson.D{
		{Key: "vector", Value: vector},
		{Key: "path", Value: EmbeddingPath},
		{Key: "k", Value: k},
	}
	if filter != nil {
		knn = append(knn, bson.E{Key: "filter", Value: equalsClause(filter)})
	}
	return bson.D{{Key: "knnBeta", Value: knn}}
}

// textClause builds a text match over paths, wrapped in compound with an
// equals filter when one is given.
func textClause(query string, paths []string, filter *schema.Filter) bson.D {
	var path any = paths
	if len(paths) == 1 {
		path = paths[0]
	}
	text := bson.D{{Key: "text", Value: bson.D{
		{Key: "query", Value: query},
		{Key: "path", Value: path},
	}}}
	if filter == nil {
		return text
	}
	return bson.D{{Key: "compound", Value: bson.D{
		{Key: "must", Value: bson.A{text}},
		{Key: "filter", Value: bson.A{equalsClause(filter)}},
	}}}
}

// searchPipeline runs operator against index and projects content,
// metadata and the search score.
func searchPipeline(index string, operator bson.D, limit int) []bson.D {
	search := append(bson.D{{Key: "index", Value: index}}, operator...)
	return []bson.D{
		{{Key: "$search", Value: search}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: ContentPath, Value: 1},
			{Key: MetadataPath, Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "searchScore"}}},
		}}},
	}
}

// cosineFromKNN undoes the (1 + cos) / 2 normalization knnBeta applies to
// cosine scores.
func cosineFromKNN(score float64) float32 {
	c := 2*score - 1
	switch {
	case c > 1:
		return 1
	case c < -1:
		return -1
	}
	return float32(c)
}
