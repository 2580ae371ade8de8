package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/categorization"
	importrepo "github.com/FACorreiaa/statement-import-engine/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/statement-import-engine/internal/domain/import/service"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/ledger"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/taxonomy"

	"github.com/FACorreiaa/statement-import-engine/pkg/config"
	"github.com/FACorreiaa/statement-import-engine/pkg/cron"
	"github.com/FACorreiaa/statement-import-engine/pkg/db"
	"github.com/FACorreiaa/statement-import-engine/pkg/metrics"
	"github.com/FACorreiaa/statement-import-engine/pkg/queue"
	"github.com/FACorreiaa/statement-import-engine/pkg/settings"
	"github.com/FACorreiaa/statement-import-engine/pkg/storage"
)

// Dependencies holds all process dependencies
type Dependencies struct {
	Config   *config.Config
	DB       *db.DB
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Settings settings.Provider
	Storage  storage.Storage

	// Repositories
	ImportRepo         importrepo.ImportRepository
	CategorizationRepo *categorization.PostgresRepository
	ReconciliationRepo *reconciliation.PostgresRepository
	Ledger             *ledger.PostgresLedger
	TaxonomyStore      *taxonomy.PostgresStore

	// Services
	CategorizationService *categorization.Service
	ReconciliationService *reconciliation.Service
	TaxonomyService       *taxonomy.Service
	ImportService         *importservice.ImportService

	// Workers
	Queue     *queue.Queue
	Scheduler *cron.Scheduler
}

// InitDependencies initializes all process dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initInfrastructure(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	deps.initRepositories()
	deps.initServices()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase connects to Postgres and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.New(ctx, db.Config{
		DSN:             d.Config.Database.DSN(),
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initInfrastructure sets up metrics, engine settings and file storage
func (d *Dependencies) initInfrastructure(ctx context.Context) error {
	if d.Config.Observability.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		d.Metrics = metrics.New(reg)
	}

	provider, err := settings.NewViperProvider(d.Config.Settings.Path)
	if err != nil {
		return err
	}
	d.Settings = provider

	fileStorage, err := storage.New(ctx, &d.Config.Storage)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.Storage = fileStorage

	d.Logger.Info("infrastructure initialized",
		slog.String("storage", string(d.Config.Storage.Type)),
		slog.Bool("compress", d.Config.Storage.Compress),
		slog.Bool("metrics", d.Metrics != nil),
	)
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.ImportRepo = importrepo.NewPostgresRepository(d.DB.Pool)
	d.CategorizationRepo = categorization.NewPostgresRepository(d.DB.Pool)
	d.ReconciliationRepo = reconciliation.NewPostgresRepository(d.DB.Pool)
	d.Ledger = ledger.NewPostgresLedger(d.DB.Pool)
	d.TaxonomyStore = taxonomy.NewPostgresStore(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() {
	d.CategorizationService = categorization.NewService(d.CategorizationRepo, d.Logger,
		categorization.WithMetrics(d.Metrics),
	)
	d.ReconciliationService = reconciliation.NewService(d.ReconciliationRepo, d.Ledger, d.Logger)
	d.TaxonomyService = taxonomy.NewService(d.TaxonomyStore, nil)

	w := d.Config.Worker
	d.Queue = queue.New(queue.Config{
		Workers:        w.Workers,
		Size:           w.QueueSize,
		MaxAttempts:    w.MaxAttempts,
		AttemptTimeout: w.AttemptTimeout,
	}, d.Logger, d.Metrics)

	d.ImportService = importservice.NewImportService(importservice.Dependencies{
		Repo:        d.ImportRepo,
		Tx:          d.DB,
		Storage:     d.Storage,
		Ledger:      d.Ledger,
		Taxonomy:    d.TaxonomyService,
		Categorizer: d.CategorizationService,
		Reconciler:  d.ReconciliationService,
		Settings:    d.Settings,
		Queue:       d.Queue,
		Metrics:     d.Metrics,
	}, d.Logger)

	d.Scheduler = cron.NewScheduler(d.ImportService, cron.ReaperConfig{
		Schedule:    w.ReaperSchedule,
		StaleAfter:  w.StaleAfter,
		MaxAttempts: w.MaxAttempts,
	}, d.Logger)

	d.Logger.Info("services initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Queue != nil {
		d.Queue.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
