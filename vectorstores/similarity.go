package vectorstores

import "math"

// CosineSimilarity returns dot(a,b)/(|a||b|) clamped to [-1, 1]. Zero norms
// and length mismatches score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	return cosine(dot, normA, normB)
}

// Norm returns the euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineWithNorms scores a against b using precomputed norms.
func CosineWithNorms(a []float32, normA float64, b []float32, normB float64) float32 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clamp(dot / (normA * normB))
}

func cosine(dot, sqA, sqB float64) float32 {
	if sqA == 0 || sqB == 0 {
		return 0
	}
	return clamp(dot / (math.Sqrt(sqA) * math.Sqrt(sqB)))
}

func clamp(v float64) float32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return float32(v)
}
