package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kinforge/internal/worker"
)

var batchWorkers int

var processCmd = &cobra.Command{
	Use:   "process <url>",
	Short: "Process one obituary URL through the resolution pipeline",
	Long: `Process fetches an obituary page, extracts genealogical facts, scores
and clusters them, matches each person against the record store, and
auto-applies whatever clears the confidence bar. Conflicts and ambiguous
matches land in the review queue.

Example:
  kinforge process https://obituaries.example.com/margaret-sullivan`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Process a file of obituary URLs concurrently",
	Long: `Batch reads one URL per line (blank lines and # comments are skipped)
and runs them through the pipeline with bounded concurrency and per-host
rate limiting.

Example:
  kinforge batch urls.txt --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "concurrent workers (default from config)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipe.ProcessURL(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("process %s: %w", args[0], err)
	}

	printRun(result)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	workers := batchWorkers
	if workers <= 0 {
		workers = a.cfg.Concurrency.Workers
	}

	limiter := worker.NewHostLimiter(a.cfg.SSOT.RateLimit, a.cfg.SSOT.RateBurst)
	pool := worker.NewPool(a.pipe, workers, limiter)

	outcomes, err := pool.ProcessFile(context.Background(), args[0])
	if err != nil {
		return err
	}

	ok, failed := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", o.URL, o.Err)
			continue
		}
		ok++
		if verbose {
			printRun(o.Result)
		}
	}
	fmt.Printf("Processed %d documents: %d succeeded, %d failed\n", len(outcomes), ok, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(outcomes))
	}
	return nil
}
