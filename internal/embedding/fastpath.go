package embedding

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/engram-sh/engram/pkg/types"
)

// FastVector derives the deterministic 32-dimension fast-path embedding for
// an episode from its text. Each lowercased word token is hashed into a
// bucket with a signed contribution, then the vector is L2-normalized.
// The function never fails, so add_episode can never fail on embedding.
func FastVector(text string) []float32 {
	vec := make([]float32, types.FastEmbeddingDim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(types.FastEmbeddingDim))
		// The bit above the bucket selects the sign, so anagram-ish token
		// sets do not all pile up positive.
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// EpisodeVector is the fast-path embedding of an episode: FastVector over
// name + " " + content.
func EpisodeVector(name, content string) []float32 {
	return FastVector(name + " " + content)
}
