package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/cli"
	"horse.fit/paddock/internal/config"
	"horse.fit/paddock/internal/db"
	"horse.fit/paddock/internal/dupdetect"
	"horse.fit/paddock/internal/embed"
	"horse.fit/paddock/internal/extract"
	"horse.fit/paddock/internal/notify"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func connectPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *config.Config, *db.Pool, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, cfg, pool, nil
}

// buildClassifier assembles the extract → embed → store pipeline from config.
func buildClassifier(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) (*dupdetect.Classifier, error) {
	files := extract.NewDirStore(cfg.UploadRoot)
	extractor := extract.New(files, logger)

	var primary embed.Embedder
	if strings.TrimSpace(cfg.EmbeddingEndpoint) != "" {
		service, err := embed.NewServiceEmbedder(embed.ServiceOptions{
			Endpoint:       cfg.EmbeddingEndpoint,
			ModelName:      cfg.EmbeddingModelName,
			Dimensions:     cfg.EmbeddingDimensions,
			RequestTimeout: cfg.EmbeddingTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure embedding service: %w", err)
		}
		primary = service
	}
	embedder := embed.NewFallbackEmbedder(primary, cfg.EmbeddingDimensions, logger)

	return dupdetect.NewClassifier(pool, extractor, embedder, notify.NewLogSink(logger), logger, dupdetect.Options{
		DuplicateThreshold: cfg.DuplicateThreshold,
		WarningThreshold:   cfg.WarningThreshold,
		NeighborLimit:      cfg.NeighborLimit,
	}), nil
}
