package cmd

import (
	"example.com/cityevents/services/ingestion/config"
	"example.com/cityevents/services/ingestion/internal/cache"
	"example.com/cityevents/services/ingestion/internal/metrics"
	"example.com/cityevents/services/ingestion/internal/normalizer"
	"example.com/cityevents/services/ingestion/internal/pipeline"
	"example.com/cityevents/services/ingestion/internal/runs"
	"example.com/cityevents/services/ingestion/internal/search"
	"example.com/cityevents/services/ingestion/internal/store"
	"example.com/cityevents/services/ingestion/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// application bundles the wired components every subcommand needs
type application struct {
	cfg          config.Config
	orchestrator *pipeline.Orchestrator
	runs         *runs.Repository
	eventStore   *store.EventStore
	elastic      *search.ElasticClient
	redisCache   *cache.RedisCache
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
}

// newApplication loads configuration and wires the full pipeline
func newApplication() (*application, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, err
	}

	db, err := initDatabase(cfg)
	if err != nil {
		return nil, err
	}
	runRepo := runs.NewRepository(db)

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Redis cache")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewDisabledTracer()
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Elasticsearch client")
	}

	eventStore, err := store.NewEventStore(cfg.Dynamo, cfg.Pipeline.ChunkPause)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize event store")
	}

	metricsCollector := metrics.NewMetrics()

	norm := normalizer.New(normalizer.Config{
		Synonyms: cfg.Pipeline.Synonyms,
		Workers:  cfg.Pipeline.NormalizeWorkers,
	})

	orchestrator := pipeline.New(
		norm,
		eventStore,
		elasticClient,
		redisCache,
		runRepo,
		metricsCollector,
		tracer,
	)

	return &application{
		cfg:          cfg,
		orchestrator: orchestrator,
		runs:         runRepo,
		eventStore:   eventStore,
		elastic:      elasticClient,
		redisCache:   redisCache,
		metrics:      metricsCollector,
		tracer:       tracer,
	}, nil
}

func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// Auto-migrate the run history
	if err := runs.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, nil
}
