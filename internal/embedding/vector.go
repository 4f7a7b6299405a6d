// Package embedding provides the two embedding spaces used by engram: the
// deterministic 32-dimension fast-path vectors stored inline on episode
// rows, and the provider-backed content-hash cache used for higher-value
// semantic search. The two spaces are kept explicit and are never mixed in
// a single cosine.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes a float32 vector as a little-endian BLOB,
// 4 bytes per component.
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes a little-endian BLOB into a float32 vector of
// the given dimension. The buffer size must match exactly.
func DecodeVector(buf []byte, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dim)
	}
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dim*4, len(buf))
	}
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Cosine computes cosine similarity between two equal-length vectors.
// Accumulation is done in float64 so rounding error stays below 1e-6 for
// dimensions up to 1024. Zero-norm vectors and length mismatches yield 0,
// never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
