package vectorstores

import (
	"reflect"
	"strings"

	"github.com/sevigo/policyrag/schema"
)

// FilterField strips the "metadata." prefix that request bodies use for
// metadata paths.
func FilterField(path string) string {
	return strings.TrimPrefix(path, "metadata.")
}

// MatchesFilter reports whether metadata satisfies the equality filter.
// Numbers compare by value regardless of their Go type. A nil filter
// matches everything.
func MatchesFilter(metadata map[string]any, f *schema.Filter) bool {
	if f == nil {
		return true
	}
	got, ok := metadata[FilterField(f.Path)]
	if !ok {
		return false
	}
	return ValuesEqual(got, f.Value)
}

func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
