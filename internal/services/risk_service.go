package services

import (
	"time"

	"github.com/crewshift/pinlock/internal/models"
)

// Risk signal weights and thresholds. The score mapping is a design contract
// shared with the rest of the platform; changing a weight changes lockout
// behavior everywhere.
const (
	// RiskWindow is how far back attempts feed the risk score
	RiskWindow = 1 * time.Hour

	rapidAttemptWindow    = 60 * time.Second
	rapidAttemptThreshold = 2
	rapidAttemptWeight    = 30

	deviceDiversityThreshold = 2
	deviceDiversityWeight    = 25

	sourceDiversityThreshold = 1
	sourceDiversityWeight    = 20

	offHoursStart  = 22 // exclusive: hour > 22 is off-hours
	offHoursEnd    = 6  // exclusive: hour < 6 is off-hours
	offHoursWeight = 15

	patternGapMax = 5 * time.Second
	patternRunLen = 3
	patternWeight = 35

	maxRiskScore = 100

	// HighRiskScore marks an attempt as high-risk for lockout-number
	// derivation
	HighRiskScore = 60
)

// RiskScorer computes a 0-100 risk score from a principal's recent attempt
// history plus the pending attempt's timestamp. Pure: no clock reads, no
// stored state.
type RiskScorer struct{}

// NewRiskScorer creates a scorer
func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

// Score evaluates the pending attempt at pendingAt against history. Only
// history within RiskWindow of pendingAt contributes. Signals are additive
// and the total is capped at 100.
func (rs *RiskScorer) Score(history []*models.AttemptRecord, pendingAt time.Time) int {
	windowStart := pendingAt.Add(-RiskWindow)
	var window []*models.AttemptRecord
	for _, r := range history {
		if r.Timestamp.After(windowStart) {
			window = append(window, r)
		}
	}

	score := 0

	// Rapid attempts: more than 2 in the last 60 seconds
	rapidStart := pendingAt.Add(-rapidAttemptWindow)
	rapid := 0
	for _, r := range window {
		if r.Timestamp.After(rapidStart) {
			rapid++
		}
	}
	if rapid > rapidAttemptThreshold {
		score += rapidAttemptWeight
	}

	// Device diversity: more than 2 distinct devices in the window
	devices := make(map[string]struct{})
	sources := make(map[string]struct{})
	for _, r := range window {
		devices[r.DeviceID] = struct{}{}
		sources[r.SourceAddress] = struct{}{}
	}
	if len(devices) > deviceDiversityThreshold {
		score += deviceDiversityWeight
	}
	if len(sources) > sourceDiversityThreshold {
		score += sourceDiversityWeight
	}

	// Off-hours: local hour outside 06-22
	if hour := pendingAt.Hour(); hour < offHoursEnd || hour > offHoursStart {
		score += offHoursWeight
	}

	// Brute-force signature: at least 3 consecutive gaps all under 5 seconds
	if hasRapidRun(window) {
		score += patternWeight
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}

// Classify maps the current attempt's score plus the failed-attempt count in
// the reset window to a risk level
func (rs *RiskScorer) Classify(score, failuresInWindow int) models.RiskLevel {
	switch {
	case score >= 80 || failuresInWindow >= 10:
		return models.RiskCritical
	case score >= 60 || failuresInWindow >= 7:
		return models.RiskHigh
	case score >= 30 || failuresInWindow >= 4:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// ClassifyScore maps a bare score to a level, used for aggregate statistics
// where per-attempt failure counts are not available
func ClassifyScore(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskCritical
	case score >= 60:
		return models.RiskHigh
	case score >= 30:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// RiskMultiplier scales lockout duration by risk level
func RiskMultiplier(level models.RiskLevel) float64 {
	switch level {
	case models.RiskCritical:
		return 3
	case models.RiskHigh:
		return 2
	case models.RiskMedium:
		return 1.5
	default:
		return 1
	}
}

func hasRapidRun(window []*models.AttemptRecord) bool {
	run := 0
	for i := 1; i < len(window); i++ {
		gap := window[i].Timestamp.Sub(window[i-1].Timestamp)
		if gap < patternGapMax {
			run++
			if run >= patternRunLen {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
