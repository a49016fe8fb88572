package embed

import (
	"context"
	"fmt"
	"math"
)

// DefaultDimensions matches the vector(384) column in the embedding table.
const DefaultDimensions = 384

// Embedder maps canonical text to an L2-normalized vector. The returned model
// id records which strategy produced the vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float64, modelID string, err error)
}

// Normalize scales the vector to unit length in place so cosine similarity
// reduces to a dot product. A zero vector is left untouched.
func Normalize(vector []float64) []float64 {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return vector
	}

	norm := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

func validateDimensions(vector []float64, want int) error {
	if len(vector) != want {
		return fmt.Errorf("expected %d dimensions, got %d", want, len(vector))
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}
	return nil
}
