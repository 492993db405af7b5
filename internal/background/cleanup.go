package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/crewshift/pinlock/internal/services"
)

// CleanupManager periodically prunes expired attempt history and forgets
// long-idle principals
type CleanupManager struct {
	lockouts *services.LockoutService
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(lockouts *services.LockoutService, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		lockouts: lockouts,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prunedAttempts, removedPrincipals := cm.lockouts.Cleanup(cleanupCtx)
	if prunedAttempts > 0 || removedPrincipals > 0 {
		cm.logger.Info("lockout cleanup completed",
			slog.Int("pruned_attempts", prunedAttempts),
			slog.Int("removed_principals", removedPrincipals))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
