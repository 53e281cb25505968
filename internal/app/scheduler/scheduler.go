// Package scheduler содержит приложение планировщика фоновых задач.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	activationservice "github.com/magabrotheeeer/coaching-billing/internal/services/activation"
	schedulerservice "github.com/magabrotheeeer/coaching-billing/internal/services/scheduler"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

const (
	dbReadyRetries = 10
	dbReadyDelay   = 3 * time.Second
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	db               *repository.Storage
	logger           *slog.Logger
}

// waitForDB ждёт, пока API применит миграции.
func waitForDB(ctx context.Context, db *repository.Storage, logger *slog.Logger) error {
	for range dbReadyRetries {
		err := repository.CheckDatabaseReady(ctx, db)
		if err == nil {
			return nil
		}
		logger.Info("database is not ready yet", sl.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "scheduler.New"

	logger.Info("configuration loaded",
		slog.String("env", cfg.Env),
		sl.Secret("storage_connection_string", cfg.StorageConnectionString),
		slog.Duration("token_sweep_interval", cfg.Scheduler.TokenSweepInterval),
	)

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := waitForDB(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Планировщик писем не отправляет.
	activationService := activationservice.NewActivationService(db, db, nil, logger)
	schedulerService := schedulerservice.NewSchedulerService(activationService, cfg.Scheduler.TokenSweepInterval, logger)

	return &App{
		schedulerService: schedulerService,
		db:               db,
		logger:           logger,
	}, nil
}

// Run запускает планировщик.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.schedulerService.RunTokenSweep(gctx)
		return nil
	})
	err := g.Wait()

	a.logger.Info("shutting down scheduler service")
	if closeErr := a.db.Close(); closeErr != nil {
		a.logger.Error("failed to close storage", sl.Err(closeErr))
	}
	return err
}
