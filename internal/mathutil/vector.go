// Package mathutil provides the pure numerical primitives used by Re-ID
// scoring: cosine similarity, L2 normalisation, ensemble scoring and the
// exponential moving average profile update. None of it touches storage
// or logging, so it is trivially unit-testable in isolation from the
// pipeline that calls it.
package mathutil

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length, or either vector being all-zero, yield 0
// rather than an error: callers treat this as "no similarity" rather
// than a fault.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// L2Normalize returns a copy of v scaled to unit L2 norm. The zero vector
// is returned unchanged since it has no direction to normalise.
func L2Normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		out := make([]float64, len(v))
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// L2Norm returns the Euclidean length of v.
func L2Norm(v []float64) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	return math.Sqrt(sumSq)
}

// EMAUpdate computes the exponential-moving-average profile update of
// the EMA update: e' = normalise((1-alpha)*old + alpha*new). The result
// is always re-normalised so an accumulation of updates cannot drift off
// the unit sphere.
func EMAUpdate(old, new []float64, alpha float64) []float64 {
	if len(old) != len(new) {
		return L2Normalize(new)
	}
	out := make([]float64, len(old))
	for i := range old {
		out[i] = (1-alpha)*old[i] + alpha*new[i]
	}
	return L2Normalize(out)
}

// WeightedPair is one (query, candidate) embedding pair and its weight in
// an ensemble score, e.g. (primary, 0.6) and (auxiliary, 0.4).
type WeightedPair struct {
	Query     []float64
	Candidate []float64
	Weight    float64
}

// EnsembleScore computes a weighted sum of per-model
// cosine similarities. Weights are used as given; callers are
// responsible for ensuring they sum to 1 (DefaultEnsembleWeights does).
// A single-model (len(pairs)==1) call degenerates to a weighted cosine
// similarity, matching the "Single-model" scoring branch of the spec.
func EnsembleScore(pairs []WeightedPair) float64 {
	var score float64
	for _, p := range pairs {
		score += p.Weight * CosineSimilarity(p.Query, p.Candidate)
	}
	return score
}

// DefaultEnsembleWeights returns the two-extractor default: primary
// weight 0.6, auxiliary weight 0.4.
func DefaultEnsembleWeights() (primary, auxiliary float64) {
	return 0.6, 0.4
}
