package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// FallbackEmbedder degrades to the deterministic hashing strategy whenever
// the primary embedder fails. It never returns an error for non-empty input,
// so the duplicate pipeline cannot block on an unavailable model.
type FallbackEmbedder struct {
	primary  Embedder
	fallback *HashingEmbedder
	logger   zerolog.Logger
}

// NewFallbackEmbedder wraps primary with the hashing fallback. primary may be
// nil, in which case every call uses the fallback directly.
func NewFallbackEmbedder(primary Embedder, dims int, logger zerolog.Logger) *FallbackEmbedder {
	return &FallbackEmbedder{
		primary:  primary,
		fallback: NewHashingEmbedder(dims),
		logger:   logger,
	}
}

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float64, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("embedding input is empty")
	}

	if e.primary != nil {
		vector, modelID, err := e.primary.Embed(ctx, text)
		if err == nil {
			return vector, modelID, nil
		}
		e.logger.Warn().Err(err).Msg("embedding model unavailable, using hashing fallback")
	}

	return e.fallback.Embed(ctx, text)
}
