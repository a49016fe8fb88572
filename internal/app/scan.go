package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/paddock/internal/cli"
	"horse.fit/paddock/internal/dupdetect"
	"horse.fit/paddock/internal/logging"
)

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	datasetID := fs.Int64("dataset", 0, "Dataset id to scan (required)")
	threshold := fs.Float64("threshold", 0, "Similarity threshold override (0 = configured duplicate threshold)")
	includeValidated := fs.Bool("include-validated", false, "Include pairs where both contributions are approved")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "scan does not accept positional arguments")
		return 2
	}
	if *datasetID <= 0 {
		fmt.Fprintln(os.Stderr, "--dataset is required")
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be within [0, 1]")
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

	pairs, err := classifier.FindDatasetDuplicates(ctx, *datasetID, dupdetect.ScanOptions{
		Threshold:        *threshold,
		IncludeValidated: *includeValidated,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Duplicate scan failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(pairs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(pairs))
	for _, pair := range pairs {
		rows = append(rows, []string{
			fmt.Sprintf("%d", pair.ContributionA),
			fmt.Sprintf("%d", pair.ContributionB),
			fmt.Sprintf("%.4f", pair.Similarity),
		})
	}
	if err := writeTable([]string{"contribution_a", "contribution_b", "similarity"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	fmt.Printf("%d pair(s) found\n", len(pairs))
	return 0
}
