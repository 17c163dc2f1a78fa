package query

import (
	"math"

	"readstash-backend/models"
)

// Cosine returns the cosine similarity of two vectors, in [-1, 1]. A zero
// or mismatched vector scores 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rescale maps a raw cosine similarity from [-1, 1] onto [0, 1]. The
// mapping is monotonic, so ordering is preserved.
func Rescale(similarity float64) float64 {
	r := (similarity + 1) / 2
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// meanVector averages a document's chunk vectors and L2-normalizes the
// result, giving a single query vector that represents the whole
// document. Returns nil when no chunk carries a vector.
func meanVector(chunks []models.Chunk) []float32 {
	var mean []float32
	count := 0
	for _, ch := range chunks {
		if len(ch.Vector) == 0 {
			continue
		}
		if mean == nil {
			mean = make([]float32, len(ch.Vector))
		}
		for i, v := range ch.Vector {
			mean[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}

	var norm float64
	for i := range mean {
		mean[i] /= float32(count)
		norm += float64(mean[i]) * float64(mean[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}
	for i := range mean {
		mean[i] = float32(float64(mean[i]) / norm)
	}
	return mean
}
