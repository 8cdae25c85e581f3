package cli

import (
	"fmt"

	"kinforge/internal/pipeline"
)

// printRun writes a human-readable summary of one document run.
func printRun(r *pipeline.RunResult) {
	fmt.Printf("✓ %s\n", r.Document.URL)
	fmt.Printf("  facts: %d  clusters: %d  applied: %d", len(r.Facts), len(r.Clusters), r.Committed)
	if r.Cached {
		fmt.Print("  (extraction cached)")
	} else if r.CostUSD > 0 {
		fmt.Printf("  cost: $%.4f", r.CostUSD)
	}
	fmt.Println()

	for _, c := range r.Clusters {
		fmt.Printf("  - %s [%s]", c.Cluster.CanonicalName, c.Category)
		if c.Commit != nil {
			if c.Commit.Created {
				fmt.Printf(" created %s", c.Commit.ExternalID)
			} else {
				fmt.Printf(" updated %s", c.Commit.ExternalID)
			}
		}
		if c.Reviews > 0 {
			fmt.Printf(" review:%d", c.Reviews)
		}
		if c.Rejects > 0 {
			fmt.Printf(" rejected:%d", c.Rejects)
		}
		fmt.Println()
	}
}
