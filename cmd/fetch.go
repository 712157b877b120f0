package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newFetchCmd runs one ingestion pass outside the server.
func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Runs one ingestion pass and prints its statistics",
		Long: `Scrapes every active source, reconciles the results into the stored
announcements, archives and publishes them, and emails subscribers about new
items. The run statistics are printed as JSON on stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, runErr := appInstance.Runner.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return fmt.Errorf("encode stats: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("fetch failed: %w", runErr)
			}
			return nil
		},
	}
}
