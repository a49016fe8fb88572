package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// HashingEmbedder is the deterministic fallback strategy: whitespace tokens
// hashed into fixed buckets, counts L2-normalized. Same text always yields
// the same vector, with no external service involved.
type HashingEmbedder struct {
	dims int
}

func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

func (e *HashingEmbedder) ModelID() string {
	return fmt.Sprintf("paddock-hash-%d/v1", e.dims)
}

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float64, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("embedding input is empty")
	}

	vector := make([]float64, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		vector[e.bucket(token)]++
	}

	return Normalize(vector), e.ModelID(), nil
}

func (e *HashingEmbedder) bucket(token string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum64() % uint64(e.dims))
}
