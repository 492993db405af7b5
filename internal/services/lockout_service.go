package services

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crewshift/pinlock/internal/config"
	"github.com/crewshift/pinlock/internal/models"
	"github.com/crewshift/pinlock/internal/repositories"
)

// LockoutService owns per-principal lockout state and the transitions between
// Active, Locked and the override-gated states. All mutations for one
// principal serialize through that principal's mutex; principals are fully
// independent of each other.
type LockoutService struct {
	cfg      config.LockoutConfig
	attempts *AttemptStore
	risk     *RiskScorer
	repo     *repositories.LockoutRepository
	audit    AuditSink
	notifier Notifier
	logger   *slog.Logger

	emergencyConfigured bool

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	statuses map[string]*models.LockoutStatus
	timers   map[string]*time.Timer

	eventsMu    sync.Mutex
	lockoutsLog []time.Time
}

// NewLockoutService wires the engine together. Call Restore before serving
// decisions so persisted lockouts survive a restart.
func NewLockoutService(
	cfg config.LockoutConfig,
	attempts *AttemptStore,
	risk *RiskScorer,
	repo *repositories.LockoutRepository,
	audit AuditSink,
	notifier Notifier,
	logger *slog.Logger,
) *LockoutService {
	return &LockoutService{
		cfg:                 cfg,
		attempts:            attempts,
		risk:                risk,
		repo:                repo,
		audit:               audit,
		notifier:            notifier,
		logger:              logger,
		emergencyConfigured: len(cfg.EmergencyCodeHashes) > 0 || cfg.EmergencyTOTPSecret != "",
		locks:               make(map[string]*sync.Mutex),
		statuses:            make(map[string]*models.LockoutStatus),
		timers:              make(map[string]*time.Timer),
	}
}

// RecordAttempt runs the full decision path for one authentication attempt:
// record, score, transition, audit, persist. It never fails for valid input;
// every attempt yields a definitive status.
func (s *LockoutService) RecordAttempt(ctx context.Context, principalID, deviceID, sourceAddress string, success bool, method models.AttemptMethod, errorCode *string, attemptCtx models.AttemptContext) *models.LockoutStatus {
	lock := s.principalLock(principalID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	score := s.risk.Score(s.attempts.Recent(principalID, RiskWindow), now)
	record := s.attempts.Record(principalID, deviceID, sourceAddress, success, method, errorCode, score, attemptCtx)

	status := s.statusLocked(principalID)
	status.LastAttempt = record
	status.TotalAttemptsInWindow = len(s.attempts.Recent(principalID, s.cfg.ResetPeriod))
	status.UpdatedAt = now

	if success {
		s.onSuccessLocked(status)
	} else {
		s.onFailureLocked(status, record, now)
	}

	s.auditEvent(models.AuditEventAttemptRecorded, principalID, map[string]any{
		"attempt_id": record.ID,
		"device_id":  deviceID,
		"success":    success,
		"method":     string(method),
		"risk_score": score,
		"state":      string(status.State),
	})
	s.persistStatus(status)

	return status.Clone()
}

// onSuccessLocked resets the principal to Active with full attempts.
// Success always wins over a pending lockout timer, but never silently
// clears a permanent lock.
func (s *LockoutService) onSuccessLocked(status *models.LockoutStatus) {
	if status.State == models.StatePermanentlyLocked {
		return
	}
	if status.IsLocked() {
		s.unlockLocked(status, models.UnlockReasonSuccessfulAuth, "")
		return
	}
	s.resetLocked(status)
}

func (s *LockoutService) onFailureLocked(status *models.LockoutStatus, record *models.AttemptRecord, now time.Time) {
	failures := s.failedInWindowLocked(status.PrincipalID)
	level := s.risk.Classify(record.RiskScore, failures)
	status.RiskLevel = level

	if status.IsLocked() {
		// Already locked: idempotent, no new duration calculation
		status.AttemptsRemaining = 0
		return
	}

	status.AttemptsRemaining = clampAttempts(s.cfg.MaxAttempts-failures, s.cfg.MaxAttempts)
	if failures >= s.cfg.MaxAttempts {
		s.triggerLockoutLocked(status, level, now)
	}
}

// triggerLockoutLocked computes the progressive duration and moves the
// principal to Locked
func (s *LockoutService) triggerLockoutLocked(status *models.LockoutStatus, level models.RiskLevel, now time.Time) {
	lockoutNumber := s.lockoutNumberLocked(status.PrincipalID)

	duration := time.Duration(float64(s.cfg.BaseLockoutDuration) *
		math.Pow(s.cfg.ProgressiveMultiplier, float64(lockoutNumber-1)) *
		RiskMultiplier(level))
	if duration > s.cfg.MaxLockoutDuration {
		duration = s.cfg.MaxLockoutDuration
	}

	expiresAt := now.Add(duration)
	status.State = models.StateLocked
	status.AttemptsRemaining = 0
	status.LockoutExpiresAt = &expiresAt
	status.LockoutDuration = &duration
	status.RequiresManagerOverride = s.cfg.ManagerOverrideRequired &&
		(level == models.RiskHigh || level == models.RiskCritical || lockoutNumber >= 3)
	status.EmergencyUnlockAvailable = s.emergencyConfigured
	status.UpdatedAt = now

	s.scheduleUnlock(status.PrincipalID, expiresAt)
	s.recordLockoutEvent(now)

	s.auditEvent(models.AuditEventLockoutTriggered, status.PrincipalID, map[string]any{
		"lockout_number":            lockoutNumber,
		"duration_ms":               duration.Milliseconds(),
		"risk_level":                string(level),
		"requires_manager_override": status.RequiresManagerOverride,
	})
	s.logger.Warn("principal locked out",
		slog.String("principal_id", status.PrincipalID),
		slog.Int("lockout_number", lockoutNumber),
		slog.Duration("duration", duration),
		slog.String("risk_level", string(level)))

	if s.notifier != nil && (level == models.RiskHigh || level == models.RiskCritical) {
		snapshot := status.Clone()
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.NotifyLockout(notifyCtx, snapshot); err != nil {
				s.logger.Warn("lockout notification failed", slog.Any("error", err))
			}
		}()
	}
}

// Unlock resets a principal to Active with full attempts, cancelling any
// pending expiry timer. Every unlock path (timer expiry, success, emergency
// code, manager override, administrative action) funnels through here.
// A permanent lock only yields to an explicit administrative unlock.
func (s *LockoutService) Unlock(ctx context.Context, principalID, reason, unlockedBy string) bool {
	lock := s.principalLock(principalID)
	lock.Lock()
	defer lock.Unlock()

	status := s.existingStatusLocked(principalID)
	if status == nil {
		return false
	}
	if status.State == models.StatePermanentlyLocked && reason != models.UnlockReasonAdmin {
		return false
	}

	s.unlockLocked(status, reason, unlockedBy)
	s.persistStatus(status)
	return true
}

// GetStatus returns the current decision state, lazily defaulting unknown
// principals to Active without registering them
func (s *LockoutService) GetStatus(ctx context.Context, principalID string) *models.LockoutStatus {
	lock := s.principalLock(principalID)
	lock.Lock()
	defer lock.Unlock()

	status := s.existingStatusLocked(principalID)
	if status == nil {
		return models.NewActiveStatus(principalID, s.cfg.MaxAttempts)
	}

	// Defensive: a lockout past its expiry with no live timer unlocks now
	if status.State == models.StateLocked && status.LockoutExpiresAt != nil &&
		!status.LockoutExpiresAt.After(time.Now()) {
		s.unlockLocked(status, models.UnlockReasonTimeoutExpired, "")
		s.persistStatus(status)
	}

	return status.Clone()
}

// Stats aggregates attempt activity over the window
func (s *LockoutService) Stats(window time.Duration) *models.LockoutStats {
	records := s.attempts.Snapshot(window)

	stats := &models.LockoutStats{
		ByRiskLevel: map[models.RiskLevel]int{
			models.RiskLow:      0,
			models.RiskMedium:   0,
			models.RiskHigh:     0,
			models.RiskCritical: 0,
		},
	}

	scoreSum := 0
	for _, r := range records {
		stats.TotalAttempts++
		if r.Success {
			stats.SuccessfulAttempts++
		} else {
			stats.FailedAttempts++
		}
		scoreSum += r.RiskScore
		stats.ByRiskLevel[ClassifyScore(r.RiskScore)]++
	}
	if stats.TotalAttempts > 0 {
		stats.AverageRiskScore = float64(scoreSum) / float64(stats.TotalAttempts)
	}

	cutoff := time.Now().Add(-window)
	s.eventsMu.Lock()
	for _, ts := range s.lockoutsLog {
		if window <= 0 || ts.After(cutoff) {
			stats.LockoutEvents++
		}
	}
	s.eventsMu.Unlock()

	return stats
}

// Restore loads all persisted principals before the engine serves decisions,
// re-arming timers for still-pending lockouts and immediately releasing any
// that expired while the process was down. Persistence failures fail open:
// the affected principal simply starts at default Active state.
func (s *LockoutService) Restore(ctx context.Context) {
	principals, err := s.repo.Principals(ctx)
	if err != nil {
		s.logger.Warn("failed to enumerate persisted principals, starting empty",
			slog.Any("error", err))
		return
	}

	now := time.Now()
	restored, expired := 0, 0
	for _, principalID := range principals {
		lock := s.principalLock(principalID)
		lock.Lock()

		history, err := s.repo.LoadHistory(ctx, principalID)
		if err != nil {
			s.logger.Warn("failed to load attempt history",
				slog.String("principal_id", principalID),
				slog.Any("error", err))
		} else {
			s.attempts.Restore(principalID, history)
		}

		status, err := s.repo.LoadStatus(ctx, principalID)
		if err != nil {
			s.logger.Warn("failed to load lockout status, principal starts active",
				slog.String("principal_id", principalID),
				slog.Any("error", err))
			lock.Unlock()
			continue
		}
		if status == nil {
			lock.Unlock()
			continue
		}

		s.mu.Lock()
		s.statuses[principalID] = status
		s.mu.Unlock()
		restored++

		if status.State == models.StateLocked {
			if status.LockoutExpiresAt != nil && status.LockoutExpiresAt.After(now) {
				s.scheduleUnlock(principalID, *status.LockoutExpiresAt)
			} else {
				s.unlockLocked(status, models.UnlockReasonTimeoutExpired, "")
				s.persistStatus(status)
				expired++
			}
		}

		lock.Unlock()
	}

	s.logger.Info("lockout state restored",
		slog.Int("principals", restored),
		slog.Int("expired_on_restore", expired))
}

// Cleanup prunes attempt history past retention and forgets principals that
// have been Active and idle beyond the status retention window. Runs on the
// background tick; takes each principal's lock like any other mutation.
func (s *LockoutService) Cleanup(ctx context.Context) (prunedAttempts, removedPrincipals int) {
	prunedAttempts = s.attempts.Prune()

	cutoff := time.Now().Add(-s.cfg.StatusRetention)
	for _, principalID := range s.knownPrincipals() {
		lock := s.principalLock(principalID)
		lock.Lock()

		status := s.existingStatusLocked(principalID)
		lastSeen, hasHistory := s.attempts.LastActivity(principalID)
		idle := !hasHistory || lastSeen.Before(cutoff)
		stale := status == nil || (status.State == models.StateActive && status.UpdatedAt.Before(cutoff))

		if idle && stale {
			s.forgetLocked(ctx, principalID)
			removedPrincipals++
		}

		lock.Unlock()
	}

	s.eventsMu.Lock()
	logCutoff := time.Now().Add(-s.cfg.StatusRetention)
	trimmed := s.lockoutsLog[:0]
	for _, ts := range s.lockoutsLog {
		if ts.After(logCutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	s.lockoutsLog = trimmed
	s.eventsMu.Unlock()

	return prunedAttempts, removedPrincipals
}

// Shutdown stops all pending unlock timers. Persisted expiry times are the
// source of truth across restarts, so cancelled timers lose nothing.
func (s *LockoutService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for principalID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, principalID)
	}
}

// knownPrincipals returns every principal with in-memory state, whether a
// registered status or retained attempt history
func (s *LockoutService) knownPrincipals() []string {
	seen := make(map[string]struct{})

	s.mu.Lock()
	for principalID := range s.statuses {
		seen[principalID] = struct{}{}
	}
	s.mu.Unlock()

	for _, principalID := range s.attempts.Principals() {
		seen[principalID] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for principalID := range seen {
		out = append(out, principalID)
	}
	return out
}

// ---- internals, all assuming the principal's lock is held ----

func (s *LockoutService) principalLock(principalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[principalID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[principalID] = lock
	}
	return lock
}

func (s *LockoutService) statusLocked(principalID string) *models.LockoutStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[principalID]
	if !ok {
		status = models.NewActiveStatus(principalID, s.cfg.MaxAttempts)
		s.statuses[principalID] = status
	}
	return status
}

func (s *LockoutService) existingStatusLocked(principalID string) *models.LockoutStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[principalID]
}

func (s *LockoutService) failedInWindowLocked(principalID string) int {
	failures := 0
	for _, r := range s.attempts.Recent(principalID, s.cfg.ResetPeriod) {
		if !r.Success {
			failures++
		}
	}
	return failures
}

// lockoutNumberLocked derives how many lockouts this principal has accrued
// from retained history: high-risk failed attempts divided by maxAttempts,
// plus one for the episode being triggered now
func (s *LockoutService) lockoutNumberLocked(principalID string) int {
	highRiskFailures := 0
	for _, r := range s.attempts.Recent(principalID, 0) {
		if !r.Success && r.RiskScore >= HighRiskScore {
			highRiskFailures++
		}
	}
	return highRiskFailures/s.cfg.MaxAttempts + 1
}

func (s *LockoutService) resetLocked(status *models.LockoutStatus) {
	status.State = models.StateActive
	status.AttemptsRemaining = s.cfg.MaxAttempts
	status.LockoutExpiresAt = nil
	status.LockoutDuration = nil
	status.RequiresManagerOverride = false
	status.EmergencyUnlockAvailable = false
	status.RiskLevel = models.RiskLow
	status.UpdatedAt = time.Now()
}

func (s *LockoutService) unlockLocked(status *models.LockoutStatus, reason, unlockedBy string) {
	s.cancelTimer(status.PrincipalID)
	s.resetLocked(status)

	data := map[string]any{"reason": reason}
	if unlockedBy != "" {
		data["unlocked_by"] = unlockedBy
	}
	s.auditEvent(models.AuditEventUnlock, status.PrincipalID, data)
	s.logger.Info("principal unlocked",
		slog.String("principal_id", status.PrincipalID),
		slog.String("reason", reason))
}

// scheduleUnlock arms a fire-once timer for the lockout expiry. The firing
// callback re-validates under the principal lock that the status still
// carries the expiry the timer was armed for, so a timer outrun by another
// unlock path is a no-op.
func (s *LockoutService) scheduleUnlock(principalID string, expiresAt time.Time) {
	s.mu.Lock()
	if timer, ok := s.timers[principalID]; ok {
		timer.Stop()
	}
	s.timers[principalID] = time.AfterFunc(time.Until(expiresAt), func() {
		s.onTimerFired(principalID, expiresAt)
	})
	s.mu.Unlock()
}

func (s *LockoutService) onTimerFired(principalID string, armedFor time.Time) {
	lock := s.principalLock(principalID)
	lock.Lock()
	defer lock.Unlock()

	status := s.existingStatusLocked(principalID)
	if status == nil || status.State != models.StateLocked {
		return
	}
	if status.LockoutExpiresAt == nil || !status.LockoutExpiresAt.Equal(armedFor) {
		// A newer lockout episode owns the state now
		return
	}

	s.unlockLocked(status, models.UnlockReasonTimeoutExpired, "")
	s.persistStatus(status)
}

func (s *LockoutService) cancelTimer(principalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[principalID]; ok {
		timer.Stop()
		delete(s.timers, principalID)
	}
}

func (s *LockoutService) forgetLocked(ctx context.Context, principalID string) {
	s.cancelTimer(principalID)
	s.attempts.Remove(principalID)

	// The per-principal mutex entry stays: a waiter blocked on it must not
	// race a freshly created mutex for the same principal.
	s.mu.Lock()
	delete(s.statuses, principalID)
	s.mu.Unlock()

	if err := s.repo.DeletePrincipal(ctx, principalID); err != nil {
		s.logger.Warn("failed to delete persisted principal state",
			slog.String("principal_id", principalID),
			slog.Any("error", err))
	}
}

func (s *LockoutService) recordLockoutEvent(ts time.Time) {
	s.eventsMu.Lock()
	s.lockoutsLog = append(s.lockoutsLog, ts)
	s.eventsMu.Unlock()
}

func (s *LockoutService) auditEvent(eventType, principalID string, data map[string]any) {
	s.audit.Record(models.AuditEvent{
		EventType:   eventType,
		Timestamp:   time.Now(),
		PrincipalID: principalID,
		Data:        data,
	})
}

// persistStatus mirrors the status to the durable store without blocking the
// decision path; failures are logged and swallowed
func (s *LockoutService) persistStatus(status *models.LockoutStatus) {
	snapshot := status.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.SaveStatus(ctx, snapshot); err != nil {
			s.logger.Warn("failed to persist lockout status",
				slog.String("principal_id", snapshot.PrincipalID),
				slog.Any("error", err))
		}
	}()
}

func clampAttempts(remaining, maxAttempts int) int {
	if remaining < 0 {
		return 0
	}
	if remaining > maxAttempts {
		return maxAttempts
	}
	return remaining
}
