package models

import "time"

// AttemptMethod identifies how the principal tried to authenticate
type AttemptMethod string

const (
	MethodPIN       AttemptMethod = "pin"
	MethodBiometric AttemptMethod = "biometric"
	MethodEmergency AttemptMethod = "emergency"
)

// AttemptContext carries request metadata attached to an attempt
type AttemptContext struct {
	UserAgent string `json:"user_agent,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Location  string `json:"location,omitempty"`
}

// AttemptRecord represents a single authentication attempt.
// Records are immutable once created and pruned after the retention window.
type AttemptRecord struct {
	ID            string         `json:"id"`
	PrincipalID   string         `json:"principal_id"`
	DeviceID      string         `json:"device_id"`
	SourceAddress string         `json:"source_address"`
	Timestamp     time.Time      `json:"timestamp"`
	Success       bool           `json:"success"`
	Method        AttemptMethod  `json:"method"`
	ErrorCode     *string        `json:"error_code,omitempty"`
	RiskScore     int            `json:"risk_score"`
	Context       AttemptContext `json:"context"`
}
