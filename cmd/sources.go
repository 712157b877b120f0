package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured schools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			list := appInstance.Catalogue.All()
			if activeOnly {
				list = appInstance.Catalogue.Active()
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCITY\tACTIVE\tLISTING")
			for _, src := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", src.ID, src.Name, src.City, src.Active, src.ListingURL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active sources")
	return cmd
}
