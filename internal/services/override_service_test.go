package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewshift/pinlock/internal/auth"
	"github.com/crewshift/pinlock/internal/config"
	"github.com/crewshift/pinlock/internal/models"
	"github.com/crewshift/pinlock/internal/services"
)

const testEmergencyCode = "rescue-7733"

func newOverrideFixture(t *testing.T, cfg config.LockoutConfig) (*services.LockoutService, *services.OverrideService, *RecordingAuditSink) {
	t.Helper()

	hash, err := auth.HashEmergencyCode(testEmergencyCode)
	require.NoError(t, err)
	cfg.EmergencyCodeHashes = []string{hash}

	engine, audit, _ := newTestEngine(cfg)
	t.Cleanup(engine.Shutdown)

	codes := auth.NewEmergencyCodeSet(cfg.EmergencyCodeHashes, cfg.EmergencyTOTPSecret)
	verifier := auth.NewManagerProofVerifier(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience)
	overrides := services.NewOverrideService(engine, codes, verifier, audit, testLogger())

	return engine, overrides, audit
}

func lockPrincipal(t *testing.T, engine *services.LockoutService, cfg config.LockoutConfig, principalID string) {
	t.Helper()
	for i := 0; i < cfg.MaxAttempts; i++ {
		recordFailure(engine, principalID)
	}
	require.True(t, engine.GetStatus(context.Background(), principalID).IsLocked())
}

func TestOverrideService_EmergencyUnlockWithValidCode(t *testing.T) {
	cfg := testLockoutConfig()
	engine, overrides, audit := newOverrideFixture(t, cfg)

	lockPrincipal(t, engine, cfg, "emp-1")
	status := engine.GetStatus(context.Background(), "emp-1")
	assert.True(t, status.EmergencyUnlockAvailable)

	ok := overrides.EmergencyUnlock(context.Background(), "emp-1", testEmergencyCode, "shift-lead")
	assert.True(t, ok)
	assert.Equal(t, models.StateActive, engine.GetStatus(context.Background(), "emp-1").State)

	unlock := audit.LastByType(models.AuditEventUnlock)
	require.NotNil(t, unlock)
	assert.Equal(t, models.UnlockReasonEmergencyCode, unlock.Data["reason"])
	assert.Equal(t, "shift-lead", unlock.Data["unlocked_by"])
}

func TestOverrideService_EmergencyUnlockWrongCodeMutatesNothing(t *testing.T) {
	cfg := testLockoutConfig()
	engine, overrides, audit := newOverrideFixture(t, cfg)

	lockPrincipal(t, engine, cfg, "emp-1")
	before := engine.GetStatus(context.Background(), "emp-1")

	ok := overrides.EmergencyUnlock(context.Background(), "emp-1", "wrong-code", "shift-lead")
	assert.False(t, ok)

	after := engine.GetStatus(context.Background(), "emp-1")
	assert.Equal(t, models.StateLocked, after.State)
	require.NotNil(t, after.LockoutExpiresAt)
	assert.True(t, before.LockoutExpiresAt.Equal(*after.LockoutExpiresAt))

	denied := audit.LastByType(models.AuditEventEmergencyUnlockDenied)
	require.NotNil(t, denied)
	assert.Equal(t, "invalid_code", denied.Data["reason"])
}

func TestOverrideService_EmergencyUnlockRotatingCode(t *testing.T) {
	cfg := testLockoutConfig()

	provisioning, err := auth.GenerateEmergencySecret("pinlock-test", "managers")
	require.NoError(t, err)
	cfg.EmergencyTOTPSecret = provisioning.Secret

	engine, audit, _ := newTestEngine(cfg)
	defer engine.Shutdown()

	codes := auth.NewEmergencyCodeSet(nil, cfg.EmergencyTOTPSecret)
	verifier := auth.NewManagerProofVerifier(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience)
	overrides := services.NewOverrideService(engine, codes, verifier, audit, testLogger())

	lockPrincipal(t, engine, cfg, "emp-1")

	code, err := totp.GenerateCode(provisioning.Secret, time.Now())
	require.NoError(t, err)

	assert.True(t, overrides.EmergencyUnlock(context.Background(), "emp-1", code, "shift-lead"))
	assert.Equal(t, models.StateActive, engine.GetStatus(context.Background(), "emp-1").State)
}

func TestOverrideService_EmergencyUnlockDeniedWhenNoCodesConfigured(t *testing.T) {
	cfg := testLockoutConfig()
	engine, audit, _ := newTestEngine(cfg)
	defer engine.Shutdown()

	codes := auth.NewEmergencyCodeSet(nil, "")
	verifier := auth.NewManagerProofVerifier(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience)
	overrides := services.NewOverrideService(engine, codes, verifier, audit, testLogger())

	lockPrincipal(t, engine, cfg, "emp-1")

	assert.False(t, overrides.EmergencyUnlock(context.Background(), "emp-1", testEmergencyCode, "shift-lead"))
	assert.True(t, engine.GetStatus(context.Background(), "emp-1").IsLocked())
}

func TestOverrideService_EmergencyUnlockNeverClearsPermanentLock(t *testing.T) {
	cfg := testLockoutConfig()
	hash, err := auth.HashEmergencyCode(testEmergencyCode)
	require.NoError(t, err)
	cfg.EmergencyCodeHashes = []string{hash}

	engine, audit, repo := newTestEngine(cfg)
	defer engine.Shutdown()

	seeded := models.NewActiveStatus("emp-1", cfg.MaxAttempts)
	seeded.State = models.StatePermanentlyLocked
	require.NoError(t, repo.SaveStatus(context.Background(), seeded))
	engine.Restore(context.Background())

	codes := auth.NewEmergencyCodeSet(cfg.EmergencyCodeHashes, "")
	verifier := auth.NewManagerProofVerifier(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience)
	overrides := services.NewOverrideService(engine, codes, verifier, audit, testLogger())

	assert.False(t, overrides.EmergencyUnlock(context.Background(), "emp-1", testEmergencyCode, "shift-lead"))
	assert.Equal(t, models.StatePermanentlyLocked, engine.GetStatus(context.Background(), "emp-1").State)

	denied := audit.LastByType(models.AuditEventEmergencyUnlockDenied)
	require.NotNil(t, denied)
	assert.Equal(t, "permanently_locked", denied.Data["reason"])
}

func TestOverrideService_ManagerUnlockWithValidProof(t *testing.T) {
	cfg := testLockoutConfig()
	engine, overrides, audit := newOverrideFixture(t, cfg)

	lockPrincipal(t, engine, cfg, "emp-1")
	require.True(t, engine.GetStatus(context.Background(), "emp-1").RequiresManagerOverride)

	proof, err := auth.MintManagerProof(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience, "mgr-7", 5*time.Minute)
	require.NoError(t, err)

	ok := overrides.ManagerUnlock(context.Background(), "emp-1", "mgr-7", proof, "employee verified in person")
	assert.True(t, ok)
	assert.Equal(t, models.StateActive, engine.GetStatus(context.Background(), "emp-1").State)

	event := audit.LastByType(models.AuditEventManagerUnlock)
	require.NotNil(t, event)
	assert.Equal(t, "mgr-7", event.Data["manager_id"])
	assert.Equal(t, "employee verified in person", event.Data["justification"])
}

func TestOverrideService_ManagerUnlockRejectsInvalidProof(t *testing.T) {
	cfg := testLockoutConfig()
	engine, overrides, audit := newOverrideFixture(t, cfg)

	lockPrincipal(t, engine, cfg, "emp-1")

	proof, err := auth.MintManagerProof("another-secret-that-is-long-enough-xx", cfg.ManagerJWTAudience, "mgr-7", 5*time.Minute)
	require.NoError(t, err)

	assert.False(t, overrides.ManagerUnlock(context.Background(), "emp-1", "mgr-7", proof, "attempt"))
	assert.True(t, engine.GetStatus(context.Background(), "emp-1").IsLocked())

	denied := audit.LastByType(models.AuditEventManagerUnlockDenied)
	require.NotNil(t, denied)
	assert.Equal(t, "invalid_proof", denied.Data["reason"])
}

func TestOverrideService_ManagerUnlockRejectsMismatchedManager(t *testing.T) {
	cfg := testLockoutConfig()
	engine, overrides, _ := newOverrideFixture(t, cfg)

	lockPrincipal(t, engine, cfg, "emp-1")

	proof, err := auth.MintManagerProof(cfg.ManagerJWTSecret, cfg.ManagerJWTAudience, "mgr-7", 5*time.Minute)
	require.NoError(t, err)

	assert.False(t, overrides.ManagerUnlock(context.Background(), "emp-1", "mgr-other", proof, "attempt"))
	assert.True(t, engine.GetStatus(context.Background(), "emp-1").IsLocked())
}

func TestOverrideService_ManagerUnlockDeniedWhenNotRequired(t *testing.T) {
	cfg := testLockoutConfig()
	cfg.ManagerOverrideRequired = false
	engine, audit, _ := newTestEngine(cfg)
	defer engine.Shutdown()

	verifier := &MockManagerVerifier{VerifyFunc: func(proof, managerID string) error { return nil }}
	overrides := services.NewOverrideService(engine, auth.NewEmergencyCodeSet(nil, ""), verifier, audit, testLogger())

	lockPrincipal(t, engine, cfg, "emp-1")
	require.False(t, engine.GetStatus(context.Background(), "emp-1").RequiresManagerOverride)

	assert.False(t, overrides.ManagerUnlock(context.Background(), "emp-1", "mgr-7", "any-proof", "attempt"))
	assert.True(t, engine.GetStatus(context.Background(), "emp-1").IsLocked())

	denied := audit.LastByType(models.AuditEventManagerUnlockDenied)
	require.NotNil(t, denied)
	assert.Equal(t, "override_not_required", denied.Data["reason"])
}

func TestOverrideService_ManagerUnlockVerifierErrorPropagatesAsDenial(t *testing.T) {
	cfg := testLockoutConfig()
	engine, audit, _ := newTestEngine(cfg)
	defer engine.Shutdown()

	verifier := &MockManagerVerifier{VerifyFunc: func(proof, managerID string) error {
		return errors.New("identity service unavailable")
	}}
	overrides := services.NewOverrideService(engine, auth.NewEmergencyCodeSet(nil, ""), verifier, audit, testLogger())

	lockPrincipal(t, engine, cfg, "emp-1")
	require.True(t, engine.GetStatus(context.Background(), "emp-1").RequiresManagerOverride)

	assert.False(t, overrides.ManagerUnlock(context.Background(), "emp-1", "mgr-7", "proof", "attempt"))
	assert.True(t, engine.GetStatus(context.Background(), "emp-1").IsLocked())
}
