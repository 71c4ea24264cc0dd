package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, API endpoint and region",
		Run: func(cmd *cobra.Command, args []string) {
			region := cfg.Region()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "fpdsync %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			fmt.Fprintf(out, "  API:    %s\n", cfg.API.BaseURL)
			fmt.Fprintf(out, "  Region: country %d, level %d, region %d\n",
				region.CountryID, region.GeoRegionLevel, region.GeoRegionID)
			fmt.Fprintf(out, "  Store:  %s, prefix %q\n", cfg.Store.Backend, cfg.Store.CollectionPrefix)
		},
	}
}
