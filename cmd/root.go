package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingestion",
	Short: "Event listing ingestion service",
	Long: `Ingestion service for city event listings: normalizes raw records
from heterogeneous sources, persists them under deterministic IDs and
projects them into the search index.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}
