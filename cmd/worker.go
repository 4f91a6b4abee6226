package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"example.com/cityevents/services/ingestion/internal/messaging"
	"example.com/cityevents/services/ingestion/internal/pipeline"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process ingestion batches from Azure Service Bus and re-ingest seed files on a schedule`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	if err := app.eventStore.EnsureTable(ctx); err != nil {
		return err
	}
	if err := app.elastic.EnsureSchema(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Start the service bus consumer
	serviceBus, err := messaging.NewServiceBusClient(app.cfg.Azure)
	if err != nil {
		return err
	}
	processor := messaging.NewProcessor(app.orchestrator)

	g.Go(func() error {
		log.Info().Str("queue", app.cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return serviceBus.StartConsumer(ctx, processor)
	})

	// Re-ingest seed files on a schedule. The deterministic IDs make the
	// re-run cheap: records already stored count as existing and only the
	// search projection is refreshed.
	if len(app.cfg.Pipeline.SeedFiles) > 0 {
		g.Go(func() error {
			log.Info().
				Strs("files", app.cfg.Pipeline.SeedFiles).
				Dur("interval", app.cfg.Pipeline.SeedInterval).
				Msg("Starting seed re-ingestion job")

			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return err
			}

			_, err = scheduler.NewJob(
				gocron.DurationJob(app.cfg.Pipeline.SeedInterval),
				gocron.NewTask(func() {
					if err := ingestSeedFiles(ctx, app); err != nil {
						log.Error().Err(err).Msg("Seed re-ingestion failed")
					}
				}),
			)
			if err != nil {
				return err
			}

			scheduler.Start()

			<-ctx.Done()

			return scheduler.Shutdown()
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// ingestSeedFiles runs every configured seed file through the pipeline. Run
// names embed the schedule slot so a crashed worker that restarts within the
// same slot does not ingest the slot twice.
func ingestSeedFiles(ctx context.Context, app *application) error {
	slot := time.Now().UTC().Truncate(app.cfg.Pipeline.SeedInterval).Format(time.RFC3339)

	for _, file := range app.cfg.Pipeline.SeedFiles {
		batch, err := loadSeedFile(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Skipping unreadable seed file")
			continue
		}

		runName := fmt.Sprintf("seed-%s-%s", filepath.Base(file), slot)
		result, err := app.orchestrator.Run(ctx, pipeline.IngestRequest{
			RunName:    runName,
			Events:     batch.Events,
			Source:     batch.Source,
			EntityType: batch.entityType(),
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrDuplicateRun) {
				log.Info().Str("run", runName).Msg("Seed batch already ingested this slot")
				continue
			}
			return errors.Wrapf(err, "seed file %s", file)
		}

		log.Info().
			Str("file", file).
			Int("persisted", result.PersistedCount).
			Int("existing", result.ExistingCount).
			Int("indexed", result.IndexedCount).
			Msg("Seed file ingested")
	}
	return nil
}
