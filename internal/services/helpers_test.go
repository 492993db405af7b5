package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/crewshift/pinlock/internal/config"
	"github.com/crewshift/pinlock/internal/models"
	"github.com/crewshift/pinlock/internal/repositories"
	"github.com/crewshift/pinlock/internal/services"
)

// RecordingAuditSink captures audit events for assertions
type RecordingAuditSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func NewRecordingAuditSink() *RecordingAuditSink {
	return &RecordingAuditSink{}
}

func (s *RecordingAuditSink) Record(event models.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *RecordingAuditSink) CountByType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

func (s *RecordingAuditSink) LastByType(eventType string) *models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			e := s.events[i]
			return &e
		}
	}
	return nil
}

// MockNotifier records notified principals
type MockNotifier struct {
	mu         sync.Mutex
	principals []string
}

func (n *MockNotifier) NotifyLockout(_ context.Context, status *models.LockoutStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.principals = append(n.principals, status.PrincipalID)
	return nil
}

// MockManagerVerifier delegates to a configurable function
type MockManagerVerifier struct {
	VerifyFunc func(proof, managerID string) error
}

func (m *MockManagerVerifier) Verify(proof, managerID string) error {
	return m.VerifyFunc(proof, managerID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testLockoutConfig() config.LockoutConfig {
	return config.LockoutConfig{
		MaxAttempts:             5,
		BaseLockoutDuration:     1 * time.Minute,
		MaxLockoutDuration:      1 * time.Hour,
		ProgressiveMultiplier:   2.0,
		ResetPeriod:             15 * time.Minute,
		ManagerOverrideRequired: true,
		ManagerJWTSecret:        "test-secret-that-is-long-enough-0123456789",
		ManagerJWTAudience:      "pinlock",
		AttemptRetention:        24 * time.Hour,
		StatusRetention:         7 * 24 * time.Hour,
		CleanupInterval:         1 * time.Hour,
	}
}

// newTestEngine builds a lockout service over an in-memory store
func newTestEngine(cfg config.LockoutConfig) (*services.LockoutService, *RecordingAuditSink, *repositories.LockoutRepository) {
	logger := testLogger()
	repo := repositories.NewLockoutRepository(repositories.NewMemoryKVStore())
	attempts := services.NewAttemptStore(repo, cfg.AttemptRetention, logger)
	audit := NewRecordingAuditSink()

	engine := services.NewLockoutService(cfg, attempts, services.NewRiskScorer(), repo, audit, services.NoopNotifier{}, logger)
	return engine, audit, repo
}

func recordFailure(engine *services.LockoutService, principalID string) *models.LockoutStatus {
	code := "invalid_pin"
	return engine.RecordAttempt(context.Background(), principalID, "tablet-1", "10.0.0.1", false, models.MethodPIN, &code, models.AttemptContext{})
}

func recordSuccess(engine *services.LockoutService, principalID string) *models.LockoutStatus {
	return engine.RecordAttempt(context.Background(), principalID, "tablet-1", "10.0.0.1", true, models.MethodPIN, nil, models.AttemptContext{})
}
