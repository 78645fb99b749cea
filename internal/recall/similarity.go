package recall

import (
	"math"
	"sort"
)

// CosineSimilarity returns a value in [-1, 1]; mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
}

type scored struct {
	index int
	score float64
}

// topK returns corpus indices ordered by descending similarity to query.
// Vectors of a different dimension are skipped.
func topK(query []float32, corpus [][]float32, k int) []int {
	results := make([]scored, 0, len(corpus))
	for i, vec := range corpus {
		if len(vec) != len(query) {
			continue
		}
		results = append(results, scored{index: i, score: CosineSimilarity(query, vec)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.index
	}
	return out
}
