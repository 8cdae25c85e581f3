package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts and extraction spend",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	stats, err := a.st.Stats(ctx)
	if err != nil {
		return err
	}
	usage, err := a.st.Usage(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Store")
	fmt.Printf("  documents:   %d\n", stats.DocumentCount)
	fmt.Printf("  facts:       %d\n", stats.FactCount)
	fmt.Printf("  clusters:    %d\n", stats.ClusterCount)
	fmt.Printf("  decisions:   %d\n", stats.DecisionCount)
	fmt.Printf("  audit rows:  %d\n", stats.AuditCount)
	fmt.Printf("  db size:     %d bytes\n", stats.DBSizeBytes)
	fmt.Println("Extraction")
	fmt.Printf("  responses:   %d\n", usage.Responses)
	fmt.Printf("  cache hits:  %d\n", usage.CacheHits)
	fmt.Printf("  tokens:      %d prompt / %d completion\n", usage.PromptTokens, usage.CompletionTokens)
	fmt.Printf("  spend:       $%.4f\n", usage.CostUSD)
	return nil
}
