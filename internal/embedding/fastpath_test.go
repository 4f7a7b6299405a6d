package embedding

import (
	"math"
	"testing"

	"github.com/engram-sh/engram/pkg/types"
)

func TestFastVector_Deterministic(t *testing.T) {
	a := FastVector("the quick brown fox")
	b := FastVector("the quick brown fox")

	if len(a) != types.FastEmbeddingDim {
		t.Fatalf("expected %d components, got %d", types.FastEmbeddingDim, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFastVector_Normalized(t *testing.T) {
	vec := FastVector("some multi word episode content with several tokens")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("expected unit norm, got %v", math.Sqrt(norm))
	}
}

func TestFastVector_CaseAndPunctuationInsensitive(t *testing.T) {
	a := FastVector("Hello, World!")
	b := FastVector("hello world")

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tokenization must ignore case and punctuation, component %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFastVector_EmptyText(t *testing.T) {
	vec := FastVector("   ...   ")
	if len(vec) != types.FastEmbeddingDim {
		t.Fatalf("expected %d components, got %d", types.FastEmbeddingDim, len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("expected zero vector for empty text, component %d = %v", i, v)
		}
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	c := []float32{2, 0, 0}

	if sim := Cosine(a, a); math.Abs(sim-1) > 1e-9 {
		t.Errorf("self similarity expected 1, got %v", sim)
	}
	if sim := Cosine(a, b); math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal similarity expected 0, got %v", sim)
	}
	if sim := Cosine(a, c); math.Abs(sim-1) > 1e-9 {
		t.Errorf("scale-invariant similarity expected 1, got %v", sim)
	}
	if sim := Cosine(a, []float32{0, 0, 0}); sim != 0 {
		t.Errorf("zero vector similarity expected 0, got %v", sim)
	}
	if sim := Cosine(a, []float32{1, 2}); sim != 0 {
		t.Errorf("length mismatch similarity expected 0, got %v", sim)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}

	buf := EncodeVector(vec)
	got, err := DecodeVector(buf, len(vec))
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d: expected %v, got %v", i, vec[i], got[i])
		}
	}

	if _, err := DecodeVector(buf, 7); err == nil {
		t.Error("expected error decoding with wrong dimension")
	}
}
