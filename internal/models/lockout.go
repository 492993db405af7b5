package models

import "time"

// LockoutState is the decision state for a principal
type LockoutState string

const (
	StateActive            LockoutState = "active"
	StateLocked            LockoutState = "locked"
	StateEmergencyLocked   LockoutState = "emergency_locked"
	StateManagerLocked     LockoutState = "manager_locked"
	StatePermanentlyLocked LockoutState = "permanently_locked"
)

// RiskLevel classifies the current risk for a principal
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LockoutStatus is the current decision state for one principal. There is one
// status per principal; it is mutated only by the lockout service and the
// override service, and reset to defaults after a successful authentication
// or a manual unlock.
type LockoutStatus struct {
	PrincipalID              string         `json:"principal_id"`
	State                    LockoutState   `json:"state"`
	AttemptsRemaining        int            `json:"attempts_remaining"`
	TotalAttemptsInWindow    int            `json:"total_attempts_in_window"`
	LockoutExpiresAt         *time.Time     `json:"lockout_expires_at,omitempty"`
	LockoutDuration          *time.Duration `json:"lockout_duration,omitempty"`
	RequiresManagerOverride  bool           `json:"requires_manager_override"`
	EmergencyUnlockAvailable bool           `json:"emergency_unlock_available"`
	RiskLevel                RiskLevel      `json:"risk_level"`
	LastAttempt              *AttemptRecord `json:"last_attempt,omitempty"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// IsLocked reports whether the principal is denied further attempts.
// Derived from state so the two can never disagree.
func (s *LockoutStatus) IsLocked() bool {
	return s.State != StateActive
}

// Clone returns a copy safe to hand out beyond the per-principal lock
func (s *LockoutStatus) Clone() *LockoutStatus {
	out := *s
	if s.LockoutExpiresAt != nil {
		t := *s.LockoutExpiresAt
		out.LockoutExpiresAt = &t
	}
	if s.LockoutDuration != nil {
		d := *s.LockoutDuration
		out.LockoutDuration = &d
	}
	if s.LastAttempt != nil {
		a := *s.LastAttempt
		out.LastAttempt = &a
	}
	return &out
}

// NewActiveStatus returns the default status for a principal that has never
// been locked
func NewActiveStatus(principalID string, maxAttempts int) *LockoutStatus {
	return &LockoutStatus{
		PrincipalID:       principalID,
		State:             StateActive,
		AttemptsRemaining: maxAttempts,
		RiskLevel:         RiskLow,
		UpdatedAt:         time.Now(),
	}
}

// LockoutStats aggregates attempt activity over a query window
type LockoutStats struct {
	TotalAttempts      int               `json:"total_attempts"`
	FailedAttempts     int               `json:"failed_attempts"`
	SuccessfulAttempts int               `json:"successful_attempts"`
	LockoutEvents      int               `json:"lockout_events"`
	AverageRiskScore   float64           `json:"average_risk_score"`
	ByRiskLevel        map[RiskLevel]int `json:"by_risk_level"`
}
