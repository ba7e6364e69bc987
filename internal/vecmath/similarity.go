// Package vecmath provides the vector operations used by the vector index
// and the cluster assigner. Use these instead of local reimplementations
// so every similarity in the system is computed the same way.
package vecmath

import "math"

// CosineSimilarity returns the cosine similarity of two vectors in
// [-1, 1]. Mismatched lengths or zero vectors yield 0. Accumulates in
// float64 regardless of input precision.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// Normalize returns a unit-length copy of v. Zero vectors are returned
// unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
