package courses

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkspaceSweeper supprime les répertoires de travail orphelins
type WorkspaceSweeper interface {
	CleanupOldWorkspaces(maxAge time.Duration) (int, error)
}

// CleanupService transforme périodiquement les jobs bloqués en échecs explicites
type CleanupService struct {
	service  *Service
	sweeper  WorkspaceSweeper
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupService crée le service de nettoyage. sweeper peut être nil.
func NewCleanupService(service *Service, sweeper WorkspaceSweeper, interval, maxAge time.Duration, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupService{
		service:  service,
		sweeper:  sweeper,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.Named("cleanup"),
		stopCh:   make(chan struct{}),
	}
}

func (c *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("Cleanup service started", zap.Duration("interval", c.interval), zap.Duration("stale_age", c.maxAge))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Cleanup service stopped due to context cancellation")
			return
		case <-c.stopCh:
			c.logger.Info("Cleanup service stopped")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce exécute un passage de nettoyage
func (c *CleanupService) RunOnce(ctx context.Context) {
	if failed, err := c.service.FailStaleCourses(ctx, c.maxAge); err != nil {
		c.logger.Error("Cleanup error", zap.Error(err))
	} else if failed > 0 {
		c.logger.Info("Cleanup completed", zap.Int64("stale_jobs_failed", failed))
	}

	if c.sweeper == nil {
		return
	}
	if removed, err := c.sweeper.CleanupOldWorkspaces(c.maxAge); err != nil {
		c.logger.Error("Workspace cleanup error", zap.Error(err))
	} else if removed > 0 {
		c.logger.Info("Orphan workspaces removed", zap.Int("count", removed))
	}
}

func (c *CleanupService) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
