package memory

import "math"

// norm returns the L2 norm accumulated in float64.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// validVector reports whether v has only finite components.
func validVector(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// normalize returns a unit-length copy of v. n must be the non-zero norm of v.
func normalize(v []float32, n float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b.
// Zero-magnitude inputs, mismatched lengths and non-finite results score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosineWithNorm(a, norm(a), b)
}

func cosineWithNorm(q []float32, qNorm float64, v []float32) float64 {
	if qNorm == 0 {
		return 0
	}
	vNorm := norm(v)
	if vNorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	score := dot / (qNorm * vNorm)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}
