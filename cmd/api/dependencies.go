package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	importhandler "github.com/FACorreiaa/household-ledger/internal/domain/import/handler"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/jobstate"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/notifier"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository/postgres"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository/sqlite"
	importservice "github.com/FACorreiaa/household-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/household-ledger/pkg/config"
	"github.com/FACorreiaa/household-ledger/pkg/cron"
	"github.com/FACorreiaa/household-ledger/pkg/db"
	"github.com/FACorreiaa/household-ledger/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	SQLite *sqlite.Repository
	Logger *slog.Logger

	// Repositories
	Records     repository.RecordStore
	Members     repository.MemberDirectory
	Jobs        repository.JobRepository
	Checkpoints jobstate.Store
	boltStore   *jobstate.BoltStore

	taxonomySource categorization.Source
	dictionary     categorization.Dictionary

	// Services
	CategorizationService *categorization.Service
	ImportService         *importservice.ImportService
	FileStorage           storage.Storage
	Notifier              *notifier.Notifier
	Scheduler             *cron.Scheduler
	Registry              *prometheus.Registry

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase opens the configured backend and runs its migrations
func (d *Dependencies) initDatabase() error {
	if d.Config.Backend.Type == config.BackendSQLite {
		repo, err := sqlite.Open(d.Config.Backend.SQLitePath)
		if err != nil {
			return err
		}
		d.SQLite = repo
		d.Logger.Info("sqlite backend opened", slog.String("path", d.Config.Backend.SQLitePath))
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.SQLite != nil {
		d.Records, d.Members, d.Jobs = d.SQLite, d.SQLite, d.SQLite
		d.taxonomySource, d.dictionary = d.SQLite, d.SQLite
	} else {
		repo := postgres.NewRepository(d.DB.Pool)
		d.Records, d.Members, d.Jobs = repo, repo, repo
		taxonomy := categorization.NewRepository(d.DB.Pool)
		d.taxonomySource, d.dictionary = taxonomy, taxonomy
	}

	switch d.Config.Checkpoint.Store {
	case config.CheckpointBolt:
		store, err := jobstate.OpenBolt(d.Config.Checkpoint.BoltPath)
		if err != nil {
			return err
		}
		d.boltStore = store
		d.Checkpoints = store
	case config.CheckpointPostgres:
		d.Checkpoints = jobstate.NewPostgresStore(d.DB.Pool)
	default:
		d.Checkpoints = jobstate.NewMemoryStore()
	}

	d.Logger.Info("repositories initialized",
		slog.String("backend", d.Config.Backend.Type),
		slog.String("checkpoints", d.Config.Checkpoint.Store),
	)
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	familyID, err := uuid.Parse(d.Config.Import.DefaultFamilyID)
	if err != nil {
		return fmt.Errorf("invalid default family id: %w", err)
	}

	d.CategorizationService = categorization.NewService(d.taxonomySource, d.dictionary, d.Logger,
		categorization.WithFuzzyDistance(d.Config.Import.FuzzyDistance),
		categorization.WithInference(d.Config.Import.InferFromDescription),
		categorization.WithCacheTTL(time.Minute),
	)

	// File storage keeps uploads so interrupted imports can be resumed after a restart
	fileStorage, err := storage.NewLocalStorage(d.Config.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []importservice.Option{
		importservice.WithUploads(d.FileStorage),
		importservice.WithMetrics(importservice.NewMetrics(d.Registry)),
	}
	if d.Config.AMQP.URL != "" {
		n, err := notifier.Dial(d.Config.AMQP.URL, d.Config.AMQP.Exchange, d.Logger)
		if err != nil {
			return err
		}
		d.Notifier = n
		opts = append(opts, importservice.WithObserver(n))
	}

	d.ImportService = importservice.NewImportService(
		d.Records,
		d.Members,
		d.Jobs,
		d.CategorizationService,
		d.Checkpoints,
		importservice.Config{
			ChunkSize:       d.Config.Import.ChunkSize,
			RetryAttempts:   d.Config.Import.RetryAttempts,
			RetryBase:       d.Config.Import.RetryBase,
			ErrorPreview:    d.Config.Import.ErrorPreview,
			DefaultFamilyID: familyID,
		},
		d.Logger,
		opts...,
	)

	d.Scheduler = cron.NewScheduler(
		d.Config.Checkpoint.PruneCron,
		d.Config.Checkpoint.Retention,
		d.Checkpoints,
		d.Jobs,
		d.ImportService,
		d.FileStorage,
		d.Logger,
	)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Config.Server.MaxUploadBytes, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	var errs []error
	if d.Notifier != nil {
		errs = append(errs, d.Notifier.Close())
	}
	if d.boltStore != nil {
		errs = append(errs, d.boltStore.Close())
	}
	if d.SQLite != nil {
		errs = append(errs, d.SQLite.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if err := errors.Join(errs...); err != nil {
		d.Logger.Warn("cleanup finished with errors", slog.Any("error", err))
		return
	}
	d.Logger.Info("cleanup completed")
}
