package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/cityevents/services/ingestion/internal/api"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle incoming ingestion batches`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	app, err := newApplication()
	if err != nil {
		return err
	}

	// Configure logging
	if app.cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// The store and index are brought up front so the first batch does not
	// pay the setup cost
	if err := app.eventStore.EnsureTable(ctx); err != nil {
		return err
	}
	if err := app.elastic.EnsureSchema(ctx); err != nil {
		return err
	}

	server := api.NewServer(app.cfg, app.orchestrator, app.runs, app.metrics, app.tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
