package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	formatFlag string
	outFlag    string
	noCache    bool
	rootCmd    = &cobra.Command{
		Use:          "outcomes-report",
		Short:        "Compute outcome and activity reports against the configured record store",
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json, csv, pdf or xlsx")
	rootCmd.PersistentFlags().StringVarP(&outFlag, "out", "o", "", "Output file (defaults to stdout for json and csv)")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Bypass the Redis report cache")

	rootCmd.AddCommand(newCriteriaCmd(), newSiteCmd(), newActivityCmd(), newCacheClearCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
