package app

import (
	"context"
	"fmt"
	"time"

	"github.com/semmidev/logship/internal/adapter/mssql"
	"github.com/semmidev/logship/internal/adapter/notifier"
	"github.com/semmidev/logship/internal/adapter/storage"
	"github.com/semmidev/logship/internal/config"
	"github.com/semmidev/logship/internal/domain"
	"github.com/semmidev/logship/internal/infrastructure/logger"
	"github.com/semmidev/logship/internal/infrastructure/scheduler"
	"github.com/semmidev/logship/internal/infrastructure/status"
	"github.com/semmidev/logship/internal/usecase"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *mssql.Client
	files     *storage.Fanout
	scheduler *scheduler.Scheduler
	engine    *usecase.Engine
	inspector *usecase.Inspector
	status    *status.Server
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:      cfg.App.LogLevel,
		File:       cfg.App.LogFile,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	// Backup discovery
	lister, err := newFileLister(cfg)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Source.Type, err)
	}
	files := storage.NewFanout(lister, log)
	log.Infof("✓ Reading log backups from %s storage: %s", cfg.Source.Type, cfg.Source.LogPath)

	sched, err := scheduler.New(scheduler.Options{
		Cron:  cfg.Schedule.Cron,
		Delay: cfg.Schedule.Delay,
		Hours: cfg.Schedule.Hours,
	}, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	alerts, err := newNotifier(cfg)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	// Destination server
	db, err := mssql.Open(ctx, cfg.Destination.ConnectionString, cfg.Destination.ConnectRetries, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to connect to destination: %w", err)
	}
	log.Infof("✓ Connected to destination server")

	stopped := usecase.NewMembershipSet()
	recovery := usecase.NewRecovery(db, log, cfg.Destination.KillUserConnections, cfg.Destination.RollbackAfter)

	sequencer := usecase.NewSequencer(db, files, recovery, sched.Hours(), alerts, stopped, log, usecase.RestoreOptions{
		LogPath:           cfg.Source.LogPath,
		StandbyFileName:   cfg.Destination.StandbyFileName,
		CheckHeaders:      cfg.Restore.CheckHeaders,
		RestoreDelay:      cfg.Restore.RestoreDelay,
		StopAt:            cfg.Restore.StopAt,
		MaxProcessingTime: cfg.Restore.MaxProcessingTime,
	})

	engine := usecase.NewEngine(db, sequencer, sched, stopped, log, usecase.EngineOptions{
		MaxThreads: cfg.Restore.MaxThreads,
		Offset:     cfg.Restore.Offset,
		Included:   cfg.Restore.Included,
		Excluded:   cfg.Restore.Excluded,
		Mapper:     cfg.Mapper(),
	})

	inspector := usecase.NewInspector(db, files, log, usecase.InspectOptions{
		LogPath:      cfg.Source.LogPath,
		FullFilePath: cfg.Source.FullFilePath,
		DiffFilePath: cfg.Source.DiffFilePath,
		Offset:       cfg.Restore.Offset,
		Mapper:       cfg.Mapper(),
	})

	a := &App{
		config:    cfg,
		logger:    log,
		db:        db,
		files:     files,
		scheduler: sched,
		engine:    engine,
		inspector: inspector,
	}

	if cfg.Status.Address != "" {
		a.status = status.New(status.Config{
			Address:      cfg.Status.Address,
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
		}, engine, log)
	}

	return a, nil
}

func newFileLister(cfg *config.Config) (domain.FileLister, error) {
	switch cfg.Source.Type {
	case config.StorageS3:
		return storage.NewS3(cfg.Source.S3.AccessKey, cfg.Source.S3.SecretKey), nil
	case config.StorageAzure:
		return storage.NewAzureBlob(cfg.Source.Azure.ContainerURL, cfg.Source.Azure.SASToken)
	default:
		return storage.NewDisk(nil), nil
	}
}

func newNotifier(cfg *config.Config) (domain.Notifier, error) {
	if !cfg.Telegram.Enabled {
		return notifier.Nop{}, nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.App.Name)
}

func (a *App) Run(ctx context.Context) error {
	c := a.config.Restore
	a.logger.Infof("Log restore engine started with %d thread(s)", c.MaxThreads)
	if !c.StopAt.IsZero() {
		a.logger.Infof("Restores will stop at %s", c.StopAt.Format(time.RFC3339))
	}
	if !c.CheckHeaders {
		a.logger.Warnf("Header checks are disabled, log files will be restored in modification order")
	}

	if a.status != nil {
		if err := a.status.Start(); err != nil {
			return fmt.Errorf("failed to start status endpoint: %w", err)
		}
	}

	// Keep running until context is cancelled
	return a.engine.Run(ctx)
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")

	if a.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.status.Shutdown(ctx); err != nil {
			a.logger.Warnf("Status endpoint shutdown: %v", err)
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warnf("Closing destination connection: %v", err)
	}
	a.logger.Close()
}
