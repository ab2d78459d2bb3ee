package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultEmbeddingDimension is the static embedder's vector size.
const DefaultEmbeddingDimension = 256

// StaticEmbedder produces deterministic embeddings from token hashes.
// It needs no network or model files, so offline runs still get working
// semantic lookup; quality is what bag-of-hashed-words buys.
type StaticEmbedder struct {
	dimension int
}

// NewStaticEmbedder creates a static embedder. A non-positive dimension
// falls back to the default.
func NewStaticEmbedder(dimension int) *StaticEmbedder {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	return &StaticEmbedder{dimension: dimension}
}

func (e *StaticEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds each text as a normalized hashed bag of words.
// The same text always produces the same vector.
func (e *StaticEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	if err := checkEmbeddings(vectors, texts, e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *StaticEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		// Alternate sign from a high hash bit so common tokens do not
		// all push in the same direction.
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty or whitespace-only text still gets a valid unit vector.
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

var _ Embedder = (*StaticEmbedder)(nil)
