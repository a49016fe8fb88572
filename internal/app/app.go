package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "backfill":
		return runBackfill(args[1:])
	case "scan":
		return runScan(args[1:])
	case "report":
		return runReport(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "paddock CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  paddock <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  backfill  Embed active contributions that have no stored embedding")
	fmt.Fprintln(os.Stderr, "  scan      Pairwise duplicate scan over one dataset")
	fmt.Fprintln(os.Stderr, "  report    Duplicate and coverage report for one dataset")
	fmt.Fprintln(os.Stderr, "  cleanup   Remove embeddings orphaned by deleted contributions")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"paddock <command> -h\" for command-specific flags.")
}
