package models

import "time"

// Audit event types emitted by the engine
const (
	AuditEventAttemptRecorded       = "attempt_recorded"
	AuditEventLockoutTriggered      = "lockout_triggered"
	AuditEventUnlock                = "unlock"
	AuditEventEmergencyUnlockDenied = "emergency_unlock_denied"
	AuditEventManagerUnlockDenied   = "manager_unlock_denied"
	AuditEventManagerUnlock         = "manager_unlock"
)

// Unlock reasons recorded on audit events
const (
	UnlockReasonTimeoutExpired  = "timeout_expired"
	UnlockReasonSuccessfulAuth  = "successful_auth"
	UnlockReasonEmergencyCode   = "emergency_code"
	UnlockReasonManagerOverride = "manager_override"
	UnlockReasonAdmin           = "admin"
)

// AuditEvent is one structured record handed to the audit sink. The engine
// only ever writes these; it never reads audit history back for decisions.
type AuditEvent struct {
	EventType   string         `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	PrincipalID string         `json:"principal_id"`
	Data        map[string]any `json:"data,omitempty"`
}
