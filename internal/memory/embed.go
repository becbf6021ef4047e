package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
)

// HashDimensions is the width of vectors produced by HashEmbedding.
const HashDimensions = 256

// HashEmbedding returns a deterministic, offline embedding function. Each
// lowercased token is hashed into a bucket; a constant bias bucket keeps
// vectors of token-free text non-zero. Vectors are unit length.
func HashEmbedding() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		return hashVector(text), nil
	}
}

func hashVector(text string) []float32 {
	v := make([]float32, HashDimensions)
	v[0] = 1

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := 1 + int(sum%uint32(HashDimensions-1))
		// Spread signs so unrelated words partially cancel.
		if sum&(1<<31) != 0 {
			v[bucket] -= 1
		} else {
			v[bucket] += 1
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
