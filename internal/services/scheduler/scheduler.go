// Package scheduler запускает периодические фоновые задачи.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
)

// TokenSweeper удаляет просроченные токены активации.
type TokenSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SchedulerService выполняет очистку просроченных токенов по таймеру.
type SchedulerService struct {
	sweeper  TokenSweeper
	interval time.Duration
	log      *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(sweeper TokenSweeper, interval time.Duration, log *slog.Logger) *SchedulerService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SchedulerService{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
	}
}

// RunTokenSweep выполняет очистку сразу и затем с интервалом до отмены ctx.
// Ошибки очистки логируются и не останавливают цикл.
func (s *SchedulerService) RunTokenSweep(ctx context.Context) {
	s.runTokenSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("token sweep stopped")
			return
		case <-ticker.C:
			s.runTokenSweep(ctx)
		}
	}
}

func (s *SchedulerService) runTokenSweep(ctx context.Context) {
	s.log.Info("starting expired activation token sweep")
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.log.Error("failed to sweep tokens", sl.Err(err))
		return
	}
	s.log.Info("expired activation tokens removed", "count", n)
}
