// Package embed implements the memory subsystem's local, deterministic
// sentence encoder: a bag-of-words vectorizer hashed into a fixed
// dimension and L2-normalized, with no network dependency and no
// call-order-sensitive state.
//
// It is grounded on rag.SimpleGraphEmbedder, adapted so the mapping from
// word to vector position is a pure function of the word itself
// (xxhash.Sum64String(word) % dimension) rather than a mutable,
// insertion-order vocabulary table — the spec requires an entity's
// embedding to depend only on its own text, never on what other text has
// been embedded before it in process lifetime.
package embed

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimension is the fixed embedding width the memory subsystem
// stores and searches against.
const DefaultDimension = 384

// Encoder is a stateless, deterministic text encoder.
type Encoder struct {
	dimension int
}

// NewEncoder constructs an Encoder with the given dimension. A
// non-positive dimension falls back to DefaultDimension.
func NewEncoder(dimension int) *Encoder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Encoder{dimension: dimension}
}

// Dimensions returns the encoder's output width.
func (e *Encoder) Dimensions() int {
	return e.dimension
}

// Embed tokenizes text into lowercase whitespace-separated words, hashes
// each into a bucket of the output vector, accumulates term frequency,
// and L2-normalizes the result. Two calls with identical text always
// produce bit-identical output; the embedding of one piece of text never
// depends on what was embedded before it.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimension)
	words := strings.Fields(strings.ToLower(text))
	for _, word := range words {
		pos := xxhash.Sum64String(word) % uint64(e.dimension)
		vec[pos] += 1.0
	}

	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
