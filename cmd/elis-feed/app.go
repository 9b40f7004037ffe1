package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/config"
	"github.com/ehr/elisfeed/internal/domain/accession"
	"github.com/ehr/elisfeed/internal/domain/labfeed"
	"github.com/ehr/elisfeed/internal/domain/reconcile"
	"github.com/ehr/elisfeed/internal/domain/record"
	"github.com/ehr/elisfeed/internal/platform/db"
	"github.com/ehr/elisfeed/internal/platform/feed"
	"github.com/ehr/elisfeed/internal/platform/lock"
	"github.com/ehr/elisfeed/internal/platform/openelis"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	worker   *labfeed.Worker
	consumer *feed.Consumer
	markers  feed.MarkerStore
	failed   feed.FailedEventStore
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

// newApp connects to the database (and Redis when configured) and wires the
// feed consumer. Missing reference data (lab system provider, encounter
// types) fails here with a ConfigurationError.
func newApp(ctx context.Context, logger zerolog.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	logger.Info().Msg("connected to database")

	lookup := record.NewLookup(pool)
	engineCfg, err := reconcile.ResolveEngineConfig(ctx, lookup, cfg.LabSystemIdentifier, cfg.LabResultEncounterType)
	if err != nil {
		a.Close()
		return nil, err
	}
	orderType, err := lookup.EncounterTypeByName(ctx, cfg.LabOrderEncounterType)
	if err != nil {
		a.Close()
		return nil, &reconcile.ConfigurationError{Setting: "LAB_ORDER_ENCOUNTER_TYPE", Err: err}
	}
	engine, err := reconcile.NewEngine(engineCfg, lookup, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := openelis.NewClient(openelis.Options{
		BaseURL:   cfg.OpenELISURI,
		Username:  cfg.OpenELISUser,
		Password:  cfg.OpenELISPassword,
		Timeout:   cfg.OpenELISTimeout,
		RateLimit: cfg.FetchRateLimitRPS,
	})

	records := record.NewService(record.NewRepo(pool))
	a.worker = labfeed.NewWorker(
		client,
		accession.NewHealthCenterFilter(cfg.HealthCenters),
		locker,
		records,
		labfeed.NewOrderMapper(records, orderType, cfg.LabVisitType),
		engine,
		logger,
	)

	a.markers = feed.NewMarkerStore(pool)
	a.failed = feed.NewFailedEventStore(pool)
	a.consumer = feed.NewConsumer(
		cfg.FeedURI(),
		feed.NewReader(client, client.URL),
		a.worker,
		a.markers,
		a.failed,
		logger,
		feed.WithMaxRetries(cfg.FeedMaxFailedRetries),
		feed.WithFatal(func(err error) bool { return !labfeed.IsRetryable(err) }),
	)
	return a, nil
}

// newLocker returns a Redis-backed locker when REDIS_URL is set, shared by
// every feed worker on that Redis; otherwise an in-process one.
func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Info().Msg("REDIS_URL not set, using in-process patient locks")
		return lock.NewLocalLocker(), nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.logger.Info().Msg("connected to redis")
	return lock.NewRedisLocker(a.redis, a.cfg.LockTTL, a.logger), nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
}
