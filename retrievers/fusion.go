package retrievers

import (
	"cmp"
	"slices"

	"github.com/sevigo/policyrag/schema"
)

type fused struct {
	hit   schema.SearchHit
	score float64
	order int
}

// Fuse merges ranked hit lists with reciprocal rank fusion and returns at
// most k passages. Hits with identical content are merged and keep the
// metadata of their first appearance. Equal fused scores keep first
// appearance order, scanning the lists in argument order. A single list
// keeps its own order.
func Fuse(k int, lists ...[]schema.SearchHit) []schema.Document {
	byContent := make(map[string]*fused)
	var merged []*fused

	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for rank, hit := range list {
			if seen[hit.Content] {
				continue
			}
			seen[hit.Content] = true

			f, ok := byContent[hit.Content]
			if !ok {
				f = &fused{hit: hit, order: len(merged)}
				byContent[hit.Content] = f
				merged = append(merged, f)
			}
			f.score += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	slices.SortStableFunc(merged, func(a, b *fused) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	docs := make([]schema.Document, len(merged))
	for i, f := range merged {
		docs[i] = f.hit.Document()
	}
	return docs
}
