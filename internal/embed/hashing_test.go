package embed

import (
	"context"
	"math"
	"testing"
)

func TestHashingEmbedderDeterministic(t *testing.T) {
	t.Parallel()

	e := NewHashingEmbedder(64)
	first, modelID, err := e.Embed(context.Background(), "a quick brown fox")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if modelID != "paddock-hash-64/v1" {
		t.Fatalf("unexpected model id: %q", modelID)
	}

	second, _, err := e.Embed(context.Background(), "a quick brown fox")
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestHashingEmbedderUnitLength(t *testing.T) {
	t.Parallel()

	e := NewHashingEmbedder(384)
	vector, _, err := e.Embed(context.Background(), "one two three two one")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vector) != 384 {
		t.Fatalf("expected 384 dimensions, got %d", len(vector))
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	if math.Abs(sumSquares-1.0) > 1e-9 {
		t.Fatalf("expected unit-length vector, squared norm %v", sumSquares)
	}
}

func TestHashingEmbedderRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	e := NewHashingEmbedder(16)
	if _, _, err := e.Embed(context.Background(), "   \n\t"); err == nil {
		t.Fatalf("expected error for whitespace-only input")
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	t.Parallel()

	vector := Normalize(make([]float64, 8))
	for i, v := range vector {
		if v != 0 {
			t.Fatalf("expected zero vector to stay zero, index %d = %v", i, v)
		}
	}
}
