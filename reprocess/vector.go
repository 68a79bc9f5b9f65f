package reprocess

import "math"

// NormalizeVector scales v to unit length so dot products are cosine
// similarities. Returns a new slice; a zero vector stays zero.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	scale := float32(1 / magnitude)
	for i, val := range v {
		result[i] = val * scale
	}
	return result
}
