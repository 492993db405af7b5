package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crewshift/pinlock/internal/models"
	"github.com/crewshift/pinlock/internal/services"
)

// midday avoids the off-hours signal in timestamp-sensitive tests
func midday() time.Time {
	return time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)
}

func attemptAt(ts time.Time, deviceID, source string) *models.AttemptRecord {
	return &models.AttemptRecord{
		ID:            "a-" + ts.Format("150405.000"),
		PrincipalID:   "emp-1",
		DeviceID:      deviceID,
		SourceAddress: source,
		Timestamp:     ts,
		Method:        models.MethodPIN,
	}
}

func TestRiskScorer_EmptyHistoryScoresZero(t *testing.T) {
	scorer := services.NewRiskScorer()
	assert.Equal(t, 0, scorer.Score(nil, midday()))
}

func TestRiskScorer_RapidAttempts(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	// Three attempts within the last 60 seconds, gaps wide enough to avoid
	// the brute-force signature
	history := []*models.AttemptRecord{
		attemptAt(now.Add(-50*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-40*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-30*time.Second), "tablet-1", "10.0.0.1"),
	}

	assert.Equal(t, 30, scorer.Score(history, now))
}

func TestRiskScorer_TwoRecentAttemptsIsNotRapid(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	history := []*models.AttemptRecord{
		attemptAt(now.Add(-50*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-30*time.Second), "tablet-1", "10.0.0.1"),
	}

	assert.Equal(t, 0, scorer.Score(history, now))
}

func TestRiskScorer_DeviceDiversity(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	history := []*models.AttemptRecord{
		attemptAt(now.Add(-30*time.Minute), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-20*time.Minute), "tablet-2", "10.0.0.1"),
		attemptAt(now.Add(-10*time.Minute), "tablet-3", "10.0.0.1"),
	}

	assert.Equal(t, 25, scorer.Score(history, now))
}

func TestRiskScorer_SourceDiversity(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	history := []*models.AttemptRecord{
		attemptAt(now.Add(-30*time.Minute), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-20*time.Minute), "tablet-1", "10.0.0.2"),
	}

	assert.Equal(t, 20, scorer.Score(history, now))
}

func TestRiskScorer_OffHours(t *testing.T) {
	scorer := services.NewRiskScorer()

	lateNight := time.Date(2026, 3, 4, 23, 30, 0, 0, time.Local)
	assert.Equal(t, 15, scorer.Score(nil, lateNight))

	earlyMorning := time.Date(2026, 3, 4, 5, 0, 0, 0, time.Local)
	assert.Equal(t, 15, scorer.Score(nil, earlyMorning))

	// Boundary hours are business hours
	closing := time.Date(2026, 3, 4, 22, 45, 0, 0, time.Local)
	assert.Equal(t, 0, scorer.Score(nil, closing))

	opening := time.Date(2026, 3, 4, 6, 0, 0, 0, time.Local)
	assert.Equal(t, 0, scorer.Score(nil, opening))
}

func TestRiskScorer_BruteForceSignature(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	// Four attempts two seconds apart, all outside the rapid window
	base := now.Add(-10 * time.Minute)
	history := []*models.AttemptRecord{
		attemptAt(base, "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(2*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(4*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(6*time.Second), "tablet-1", "10.0.0.1"),
	}

	assert.Equal(t, 35, scorer.Score(history, now))
}

func TestRiskScorer_BruteForceSignatureResetsOnGap(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	base := now.Add(-10 * time.Minute)
	history := []*models.AttemptRecord{
		attemptAt(base, "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(2*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(4*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(30*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(base.Add(32*time.Second), "tablet-1", "10.0.0.1"),
	}

	assert.Equal(t, 0, scorer.Score(history, now))
}

func TestRiskScorer_ScoreIsCappedAt100(t *testing.T) {
	scorer := services.NewRiskScorer()
	lateNight := time.Date(2026, 3, 4, 23, 30, 0, 0, time.Local)

	// Every signal at once: rapid, three devices, two sources, off-hours
	// and the brute-force signature sum to 125 before the cap
	history := []*models.AttemptRecord{
		attemptAt(lateNight.Add(-8*time.Second), "tablet-1", "10.0.0.1"),
		attemptAt(lateNight.Add(-6*time.Second), "tablet-2", "10.0.0.1"),
		attemptAt(lateNight.Add(-4*time.Second), "tablet-3", "10.0.0.2"),
		attemptAt(lateNight.Add(-2*time.Second), "tablet-1", "10.0.0.2"),
	}

	assert.Equal(t, 100, scorer.Score(history, lateNight))
}

func TestRiskScorer_HistoryOutsideWindowIgnored(t *testing.T) {
	scorer := services.NewRiskScorer()
	now := midday()

	history := []*models.AttemptRecord{
		attemptAt(now.Add(-2*time.Hour), "tablet-1", "10.0.0.1"),
		attemptAt(now.Add(-90*time.Minute), "tablet-2", "10.0.0.2"),
		attemptAt(now.Add(-70*time.Minute), "tablet-3", "10.0.0.3"),
	}

	assert.Equal(t, 0, scorer.Score(history, now))
}

func TestRiskScorer_Classify(t *testing.T) {
	scorer := services.NewRiskScorer()

	tests := []struct {
		name     string
		score    int
		failures int
		want     models.RiskLevel
	}{
		{"quiet", 0, 0, models.RiskLow},
		{"few failures", 10, 3, models.RiskLow},
		{"medium by score", 30, 0, models.RiskMedium},
		{"medium by failures", 0, 4, models.RiskMedium},
		{"high by score", 60, 0, models.RiskHigh},
		{"high by failures", 0, 7, models.RiskHigh},
		{"critical by score", 80, 0, models.RiskCritical},
		{"critical by failures", 0, 10, models.RiskCritical},
		{"score wins over failures", 95, 2, models.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.Classify(tt.score, tt.failures))
		})
	}
}

func TestClassifyScoreBoundaries(t *testing.T) {
	assert.Equal(t, models.RiskLow, services.ClassifyScore(29))
	assert.Equal(t, models.RiskMedium, services.ClassifyScore(30))
	assert.Equal(t, models.RiskHigh, services.ClassifyScore(60))
	assert.Equal(t, models.RiskCritical, services.ClassifyScore(80))
}

func TestRiskMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, services.RiskMultiplier(models.RiskLow))
	assert.Equal(t, 1.5, services.RiskMultiplier(models.RiskMedium))
	assert.Equal(t, 2.0, services.RiskMultiplier(models.RiskHigh))
	assert.Equal(t, 3.0, services.RiskMultiplier(models.RiskCritical))
}
