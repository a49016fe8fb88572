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

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	datasetID := fs.Int64("dataset", 0, "Dataset id to report on (required)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "report does not accept positional arguments")
		return 2
	}
	if *datasetID <= 0 {
		fmt.Fprintln(os.Stderr, "--dataset is required")
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

	report, err := classifier.GenerateDuplicateReport(ctx, *datasetID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Duplicate report failed: %v\n", err)
		return 1
	}

	stats, err := pool.QueryDatasetStats(ctx, *datasetID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query dataset stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{
			"report": report,
			"stats":  stats,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	summaryRows := [][]string{
		{"active contributions", fmt.Sprintf("%d", report.TotalActive)},
		{"embedded", fmt.Sprintf("%d", report.Embedded)},
		{"coverage", fmt.Sprintf("%.1f%%", report.CoveragePercent)},
		{"high-confidence pairs", fmt.Sprintf("%d", report.HighConfidence)},
		{"medium-confidence pairs", fmt.Sprintf("%d", report.MediumConfidence)},
		{"pending", fmt.Sprintf("%d", stats.Pending)},
		{"approved", fmt.Sprintf("%d", stats.Approved)},
		{"rejected", fmt.Sprintf("%d", stats.Rejected)},
		{"active validations", fmt.Sprintf("%d", stats.ActiveValidations)},
	}
	if err := writeTable([]string{"metric", "value"}, summaryRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render summary table: %v\n", err)
		return 1
	}

	if len(report.TopDuplicates) > 0 {
		fmt.Println()
		dupRows := make([][]string, 0, len(report.TopDuplicates))
		for _, pair := range report.TopDuplicates {
			dupRows = append(dupRows, []string{
				fmt.Sprintf("%d", pair.ContributionA),
				fmt.Sprintf("%d", pair.ContributionB),
				fmt.Sprintf("%.4f", pair.Similarity),
			})
		}
		if err := writeTable([]string{"duplicate_a", "duplicate_b", "similarity"}, dupRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render duplicate table: %v\n", err)
			return 1
		}
	}

	if len(stats.Languages) > 0 {
		fmt.Println()
		langRows := make([][]string, 0, len(stats.Languages))
		for _, lc := range stats.Languages {
			langRows = append(langRows, []string{lc.Language, fmt.Sprintf("%d", lc.Count)})
		}
		if err := writeTable([]string{"language", "contributions"}, langRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render language table: %v\n", err)
			return 1
		}
	}

	return 0
}
