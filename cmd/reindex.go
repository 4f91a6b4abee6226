package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index",
	Long: `Drop the search index and rebuild it from the stored records. The
index is a derived view, so a rebuild is always safe.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	app, err := newApplication()
	if err != nil {
		return err
	}

	ctx := context.Background()

	count, err := app.elastic.RebuildAll(ctx, app.eventStore)
	if err != nil {
		return err
	}

	log.Info().Int("documents", count).Msg("Search index rebuilt")
	return nil
}
