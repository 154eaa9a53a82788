package docstore

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultVectorSize is the dimension of HashEmbedder vectors.
const DefaultVectorSize = 64

// HashEmbedder maps text to a deterministic unit vector. Both backends need a
// vector per point; refmerge only filters on payload so the vector carries no
// meaning beyond being stable for a given id.
type HashEmbedder struct {
	size int
}

// NewHashEmbedder returns an embedder producing vectors of the given size.
func NewHashEmbedder(size int) *HashEmbedder {
	if size <= 0 {
		size = DefaultVectorSize
	}
	return &HashEmbedder{size: size}
}

// Size returns the vector dimension.
func (e *HashEmbedder) Size() int {
	return e.size
}

// Embed returns the unit vector for text.
func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.size)
	h := fnv.New64a()
	var sumSq float64
	for i := range vec {
		h.Reset()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(text))
		// Map into [-1, 1).
		v := float64(h.Sum64()>>11)/float64(1<<53)*2 - 1
		vec[i] = float32(v)
		sumSq += v * v
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

// EmbedFunc adapts Embed to the chromem embedding function signature.
func (e *HashEmbedder) EmbedFunc() func(ctx context.Context, text string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		return e.Embed(text), nil
	}
}
