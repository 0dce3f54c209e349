// Package app wires the shared runtime used by both binaries: run ledger,
// run lock, metrics, storage and the pipeline catalog.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"dwpipe/internal/config"
	"dwpipe/internal/database"
	"dwpipe/internal/database/migration"
	"dwpipe/internal/lock"
	"dwpipe/internal/logger"
	"dwpipe/internal/metrics"
	"dwpipe/internal/pipeline"
	"dwpipe/internal/pipelines"
	"dwpipe/internal/repository"
	"dwpipe/internal/repository/memory"
	"dwpipe/internal/repository/postgres"
	"dwpipe/internal/storage"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	Logger *slog.Logger
	// Storage replaces the config-driven S3/Azure factory.
	Storage storage.Opener
	// Endpoint replaces the public CoinGecko base URL.
	Endpoint string
	// Redis replaces the client built from config.
	Redis redis.UniversalClient
}

// App holds the wired runtime. Close releases what New opened.
type App struct {
	Config    *config.AppConfig
	Log       *slog.Logger
	DB        *sql.DB
	Runs      repository.RunRepository
	Locker    lock.Locker
	Prom      *prometheus.Registry
	Metrics   *metrics.Pipeline
	Storage   storage.Opener
	Pipelines *pipeline.Registry
	Runner    *pipeline.Runner

	closers []func() error
}

// New connects the run ledger (PostgreSQL when DB_HOST is set, memory
// otherwise), the run lock (Redis when REDIS_ADDR is set, in-process
// otherwise) and registers the pipeline catalog.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (_ *App, err error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Database.Enabled() {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			return nil, err
		}
		a.Runs = postgres.NewRunPostgres(db)
	} else {
		log.Warn("run_ledger_in_memory", "reason", "DB_HOST not set")
		a.Runs = memory.NewRunMemory()
	}

	rdb := opts.Redis
	if rdb == nil && cfg.Redis.Addr != "" {
		c := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, c.Close)
		rdb = c
	}
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Locker = lock.NewRedis(rdb)
	} else {
		a.Locker = lock.NewLocal()
	}

	a.Prom = prometheus.NewRegistry()
	a.Prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if a.Metrics, err = metrics.NewPipeline(a.Prom); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.Storage = opts.Storage
	if a.Storage == nil {
		a.Storage = storage.NewFactory(cfg)
	}

	a.Pipelines = pipeline.NewRegistry()
	err = pipelines.Register(a.Pipelines, pipelines.Deps{
		Config:   cfg,
		Storage:  a.Storage,
		Metrics:  a.Metrics,
		Logger:   log,
		Endpoint: opts.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("register pipelines: %w", err)
	}

	a.Runner = pipeline.NewRunner(a.Pipelines, a.Runs, a.Locker, pipeline.RunnerOptions{
		LockTTL: cfg.LockTTL,
		Metrics: a.Metrics,
		Logger:  log,
	})
	return a, nil
}

// Close closes connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
