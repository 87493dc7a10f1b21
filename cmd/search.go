package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find assets matching a text description",
	Long: `Find assets whose smart search embedding is closest to a text query.

Example:
  photo-jobs search "dog on a beach" --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int("limit", 20, "Maximum number of results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	results, err := c.SmartSearch(cmd.Context(), strings.Join(args, " "), mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matching assets.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tASSET\tDISTANCE")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, r.AssetID, r.Distance)
	}
	return w.Flush()
}
