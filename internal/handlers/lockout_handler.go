package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crewshift/pinlock/internal/models"
	pkghttp "github.com/crewshift/pinlock/pkg/http"
)

// LockoutEngine is the subset of the lockout service the handler needs
type LockoutEngine interface {
	RecordAttempt(ctx context.Context, principalID, deviceID, sourceAddress string, success bool, method models.AttemptMethod, errorCode *string, attemptCtx models.AttemptContext) *models.LockoutStatus
	GetStatus(ctx context.Context, principalID string) *models.LockoutStatus
	Unlock(ctx context.Context, principalID, reason, unlockedBy string) bool
	Stats(window time.Duration) *models.LockoutStats
}

// OverrideAuthority is the subset of the override service the handler needs
type OverrideAuthority interface {
	EmergencyUnlock(ctx context.Context, principalID, code, unlockedBy string) bool
	ManagerUnlock(ctx context.Context, principalID, managerID, proof, justification string) bool
}

// LockoutHandler serves the attempt and unlock endpoints
type LockoutHandler struct {
	lockouts  LockoutEngine
	overrides OverrideAuthority
	ipConfig  *pkghttp.IPConfig
	logger    *slog.Logger
}

func NewLockoutHandler(lockouts LockoutEngine, overrides OverrideAuthority, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *LockoutHandler {
	return &LockoutHandler{
		lockouts:  lockouts,
		overrides: overrides,
		ipConfig:  ipConfig,
		logger:    logger,
	}
}

// RecordAttemptRequest is the payload for POST /attempts
type RecordAttemptRequest struct {
	PrincipalID   string `json:"principal_id" validate:"required,max=128"`
	DeviceID      string `json:"device_id" validate:"required,max=128"`
	SourceAddress string `json:"source_address" validate:"omitempty,max=64"`
	Success       bool   `json:"success"`
	Method        string `json:"method" validate:"required,oneof=pin biometric emergency"`
	ErrorCode     string `json:"error_code" validate:"omitempty,max=64"`
	UserAgent     string `json:"user_agent" validate:"omitempty,max=256"`
	TenantID      string `json:"tenant_id" validate:"omitempty,max=128"`
	Location      string `json:"location" validate:"omitempty,max=128"`
}

// UnlockRequest is the payload for POST /principals/{id}/unlock
type UnlockRequest struct {
	UnlockedBy string `json:"unlocked_by" validate:"required,max=128"`
}

// EmergencyUnlockRequest is the payload for POST /principals/{id}/emergency-unlock
type EmergencyUnlockRequest struct {
	Code       string `json:"code" validate:"required,min=6,max=64"`
	UnlockedBy string `json:"unlocked_by" validate:"required,max=128"`
}

// ManagerUnlockRequest is the payload for POST /principals/{id}/manager-unlock
type ManagerUnlockRequest struct {
	ManagerID     string `json:"manager_id" validate:"required,max=128"`
	Proof         string `json:"proof" validate:"required"`
	Justification string `json:"justification" validate:"required,min=4,max=512"`
}

// StatusResponse is the wire shape of a lockout status
type StatusResponse struct {
	PrincipalID              string                `json:"principal_id"`
	State                    models.LockoutState   `json:"state"`
	Locked                   bool                  `json:"locked"`
	AttemptsRemaining        int                   `json:"attempts_remaining"`
	TotalAttemptsInWindow    int                   `json:"total_attempts_in_window"`
	LockoutExpiresAt         *time.Time            `json:"lockout_expires_at,omitempty"`
	LockoutDurationMs        *int64                `json:"lockout_duration_ms,omitempty"`
	RequiresManagerOverride  bool                  `json:"requires_manager_override"`
	EmergencyUnlockAvailable bool                  `json:"emergency_unlock_available"`
	RiskLevel                models.RiskLevel      `json:"risk_level"`
	LastAttempt              *models.AttemptRecord `json:"last_attempt,omitempty"`
	UpdatedAt                time.Time             `json:"updated_at"`
}

func toStatusResponse(status *models.LockoutStatus) StatusResponse {
	resp := StatusResponse{
		PrincipalID:              status.PrincipalID,
		State:                    status.State,
		Locked:                   status.IsLocked(),
		AttemptsRemaining:        status.AttemptsRemaining,
		TotalAttemptsInWindow:    status.TotalAttemptsInWindow,
		LockoutExpiresAt:         status.LockoutExpiresAt,
		RequiresManagerOverride:  status.RequiresManagerOverride,
		EmergencyUnlockAvailable: status.EmergencyUnlockAvailable,
		RiskLevel:                status.RiskLevel,
		LastAttempt:              status.LastAttempt,
		UpdatedAt:                status.UpdatedAt,
	}
	if status.LockoutDuration != nil {
		ms := status.LockoutDuration.Milliseconds()
		resp.LockoutDurationMs = &ms
	}
	return resp
}

// RecordAttempt handles POST /attempts
func (h *LockoutHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid JSON body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Source address defaults to the connection's client IP when the
	// platform does not forward one explicitly
	sourceAddress := req.SourceAddress
	if sourceAddress == "" {
		sourceAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	var errorCode *string
	if req.ErrorCode != "" {
		errorCode = &req.ErrorCode
	}

	status := h.lockouts.RecordAttempt(
		r.Context(),
		req.PrincipalID,
		req.DeviceID,
		sourceAddress,
		req.Success,
		models.AttemptMethod(req.Method),
		errorCode,
		models.AttemptContext{
			UserAgent: req.UserAgent,
			TenantID:  req.TenantID,
			Location:  req.Location,
		},
	)

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(status))
}

// GetStatus handles GET /principals/{id}/status
func (h *LockoutHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")
	if principalID == "" {
		pkghttp.WriteBadRequest(w, "principal id is required")
		return
	}

	status := h.lockouts.GetStatus(r.Context(), principalID)
	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(status))
}

// Unlock handles POST /principals/{id}/unlock. This is the administrative
// unlock: it is the only path that clears a permanent lock.
func (h *LockoutHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !h.lockouts.Unlock(r.Context(), principalID, models.UnlockReasonAdmin, req.UnlockedBy) {
		pkghttp.WriteNotFound(w, "principal is not locked")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(h.lockouts.GetStatus(r.Context(), principalID)))
}

// EmergencyUnlock handles POST /principals/{id}/emergency-unlock
func (h *LockoutHandler) EmergencyUnlock(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")

	var req EmergencyUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !h.overrides.EmergencyUnlock(r.Context(), principalID, req.Code, req.UnlockedBy) {
		pkghttp.WriteForbidden(w, "emergency unlock denied")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(h.lockouts.GetStatus(r.Context(), principalID)))
}

// ManagerUnlock handles POST /principals/{id}/manager-unlock
func (h *LockoutHandler) ManagerUnlock(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")

	var req ManagerUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !h.overrides.ManagerUnlock(r.Context(), principalID, req.ManagerID, req.Proof, req.Justification) {
		pkghttp.WriteForbidden(w, "manager unlock denied")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(h.lockouts.GetStatus(r.Context(), principalID)))
}

// GetStats handles GET /stats?window_ms=N
func (h *LockoutHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(0)
	if raw := r.URL.Query().Get("window_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			pkghttp.WriteBadRequest(w, "window_ms must be a non-negative integer")
			return
		}
		window = time.Duration(ms) * time.Millisecond
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.lockouts.Stats(window))
}
