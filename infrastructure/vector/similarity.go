package vector

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when lengths differ or either vector has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Match is a chunk id with its similarity score.
type Match struct {
	chunkID int64
	score   float64
}

// NewMatch creates a Match.
func NewMatch(chunkID int64, score float64) Match {
	return Match{chunkID: chunkID, score: score}
}

// ChunkID returns the chunk identifier.
func (m Match) ChunkID() int64 { return m.chunkID }

// Score returns the similarity score.
func (m Match) Score() float64 { return m.score }

// StoredVector holds an embedding with its chunk id.
type StoredVector struct {
	chunkID   int64
	embedding []float64
}

// NewStoredVector creates a StoredVector.
func NewStoredVector(chunkID int64, embedding []float64) StoredVector {
	vec := make([]float64, len(embedding))
	copy(vec, embedding)
	return StoredVector{chunkID: chunkID, embedding: vec}
}

// ChunkID returns the chunk identifier.
func (v StoredVector) ChunkID() int64 { return v.chunkID }

// Embedding returns a copy of the embedding vector.
func (v StoredVector) Embedding() []float64 {
	out := make([]float64, len(v.embedding))
	copy(out, v.embedding)
	return out
}

// TopKSimilar finds the k vectors most similar to the query, sorted by
// similarity descending.
func TopKSimilar(query []float64, vectors []StoredVector, k int) []Match {
	if len(vectors) == 0 || k <= 0 {
		return []Match{}
	}

	matches := make([]Match, 0, len(vectors))
	for _, v := range vectors {
		matches = append(matches, NewMatch(v.chunkID, CosineSimilarity(query, v.embedding)))
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
