package database

import (
	"cmp"
	"math"
	"slices"
)

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// Neighbor is a search hit with its cosine distance to the query.
type Neighbor[K cmp.Ordered] struct {
	Key      K
	Distance float64
}

// RankByCosine brute-forces the nearest vectors to query.
// Only vectors strictly closer than maxDistance are returned, nearest first,
// ties broken by key so results are deterministic.
func RankByCosine[K cmp.Ordered](query []float32, vectors map[K][]float32, limit int, maxDistance float64) []Neighbor[K] {
	hits := make([]Neighbor[K], 0, len(vectors))
	for key, vec := range vectors {
		d := CosineDistance(query, vec)
		if d < maxDistance {
			hits = append(hits, Neighbor[K]{Key: key, Distance: d})
		}
	}

	slices.SortFunc(hits, func(a, b Neighbor[K]) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
