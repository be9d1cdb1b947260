// Package scheduler runs the recurring lifecycle sweeps on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/service"
)

// Scheduler drives the trash and orphan cleanup sweeps. Sweeps run on
// 6-field cron expressions (with a seconds field) from configuration.
type Scheduler struct {
	mu sync.Mutex

	lifecycle *service.LifecycleService
	cfg       config.CleanupConfig
	logger    *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler.
func NewScheduler(lifecycle *service.LifecycleService, cfg config.CleanupConfig) *Scheduler {
	return &Scheduler{
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start registers the sweeps and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithSeconds())

	if _, err := s.cron.AddFunc(s.cfg.TrashCron, s.runTrashSweep); err != nil {
		return fmt.Errorf("registering trash sweep %q: %w", s.cfg.TrashCron, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.OrphanCron, s.runOrphanSweep); err != nil {
		return fmt.Errorf("registering orphan sweep %q: %w", s.cfg.OrphanCron, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.String("trash_cron", s.cfg.TrashCron),
		slog.String("orphan_cron", s.cfg.OrphanCron))
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.cancel()
	s.cron = nil
	s.ctx = nil
	s.cancel = nil

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runTrashSweep() {
	result, err := s.lifecycle.CleanupTrashVideos(s.ctx, false)
	if err != nil {
		s.logger.Error("trash sweep failed", slog.Any("error", err))
		return
	}
	s.logger.Info("trash sweep run",
		slog.Int("candidates", result.Candidates),
		slog.Int("deleted", result.PermanentlyDeleted),
		slog.Int("failed", len(result.FailedVideoIDs)))
}

func (s *Scheduler) runOrphanSweep() {
	result, err := s.lifecycle.CleanupOrphanVideos(s.ctx)
	if err != nil {
		s.logger.Error("orphan sweep failed", slog.Any("error", err))
		return
	}
	s.logger.Info("orphan sweep run",
		slog.Int("objects_removed", result.OrphanObjectsRemoved),
		slog.Int("uploads_cancelled", result.StaleUploadsCanceled))
}
