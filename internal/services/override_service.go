package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/crewshift/pinlock/internal/auth"
	"github.com/crewshift/pinlock/internal/models"
)

// ManagerVerifier validates a manager's credential proof. Verification
// itself belongs to the platform's identity service; the engine only asks
// yes or no.
type ManagerVerifier interface {
	Verify(proof, managerID string) error
}

// OverrideService owns the two privileged unlock paths: pre-shared emergency
// codes and manager override. Both are independently gated, both delegate to
// the lockout service's single unlock operation, and every denial is audited.
type OverrideService struct {
	lockouts *LockoutService
	codes    *auth.EmergencyCodeSet
	verifier ManagerVerifier
	audit    AuditSink
	logger   *slog.Logger
}

// NewOverrideService creates the override authority
func NewOverrideService(lockouts *LockoutService, codes *auth.EmergencyCodeSet, verifier ManagerVerifier, audit AuditSink, logger *slog.Logger) *OverrideService {
	return &OverrideService{
		lockouts: lockouts,
		codes:    codes,
		verifier: verifier,
		audit:    audit,
		logger:   logger,
	}
}

// EmergencyUnlock releases a lockout when the presented code is in the
// configured set. A wrong code returns false and mutates nothing; a
// permanent lock never yields to an emergency code.
func (s *OverrideService) EmergencyUnlock(ctx context.Context, principalID, code, unlockedBy string) bool {
	status := s.lockouts.GetStatus(ctx, principalID)
	if status.State == models.StatePermanentlyLocked {
		s.deny(models.AuditEventEmergencyUnlockDenied, principalID, unlockedBy, "permanently_locked")
		return false
	}

	if s.codes.Empty() || !s.codes.Matches(code) {
		s.deny(models.AuditEventEmergencyUnlockDenied, principalID, unlockedBy, "invalid_code")
		return false
	}

	return s.lockouts.Unlock(ctx, principalID, models.UnlockReasonEmergencyCode, unlockedBy)
}

// ManagerUnlock releases a lockout that requires manager override, after the
// manager's proof has been verified. The justification text is recorded on
// the audit trail.
func (s *OverrideService) ManagerUnlock(ctx context.Context, principalID, managerID, proof, justification string) bool {
	status := s.lockouts.GetStatus(ctx, principalID)
	if !status.RequiresManagerOverride {
		s.deny(models.AuditEventManagerUnlockDenied, principalID, managerID, "override_not_required")
		return false
	}

	if err := s.verifier.Verify(proof, managerID); err != nil {
		s.logger.Warn("manager proof rejected",
			slog.String("principal_id", principalID),
			slog.String("manager_id", managerID),
			slog.Any("error", err))
		s.deny(models.AuditEventManagerUnlockDenied, principalID, managerID, "invalid_proof")
		return false
	}

	if !s.lockouts.Unlock(ctx, principalID, models.UnlockReasonManagerOverride, managerID) {
		return false
	}

	s.audit.Record(models.AuditEvent{
		EventType:   models.AuditEventManagerUnlock,
		Timestamp:   time.Now(),
		PrincipalID: principalID,
		Data: map[string]any{
			"manager_id":    managerID,
			"justification": justification,
		},
	})
	return true
}

func (s *OverrideService) deny(eventType, principalID, actor, reason string) {
	s.audit.Record(models.AuditEvent{
		EventType:   eventType,
		Timestamp:   time.Now(),
		PrincipalID: principalID,
		Data: map[string]any{
			"actor":  actor,
			"reason": reason,
		},
	})
}
