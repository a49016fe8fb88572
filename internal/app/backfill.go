package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/paddock/internal/cli"
	"horse.fit/paddock/internal/logging"
)

func runBackfill(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	datasetID := fs.Int64("dataset", 0, "Restrict the backfill to one dataset id (0 = all datasets)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "backfill does not accept positional arguments")
		return 2
	}
	if *datasetID < 0 {
		fmt.Fprintln(os.Stderr, "--dataset must be a positive dataset id or 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, cfg, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	classifier, err := buildClassifier(pool, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure duplicate detection: %v\n", err)
		return 1
	}

	var scope *int64
	if *datasetID > 0 {
		scope = datasetID
	}

	result, err := classifier.ProcessExistingContributions(ctx, scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{{
		fmt.Sprintf("%d", result.Processed),
		fmt.Sprintf("%d", result.Skipped),
		fmt.Sprintf("%d", result.Total),
	}}
	if err := writeTable([]string{"processed", "skipped", "total"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
