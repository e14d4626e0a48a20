package verification

import "math"

// Distance is the Euclidean distance between two embeddings. Vectors of
// different or zero length, and vectors holding NaN or Inf, are infinitely
// far apart.
func Distance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return math.Inf(1)
		}
		d := x - y
		sum += d * d
	}
	return math.Sqrt(sum)
}
