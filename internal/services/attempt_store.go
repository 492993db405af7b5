package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewshift/pinlock/internal/models"
	"github.com/crewshift/pinlock/internal/repositories"
)

// AttemptStore keeps the bounded, append-only attempt history per principal.
// Records are trimmed past the retention window on every write and mirrored
// to the durable store best-effort.
type AttemptStore struct {
	mu        sync.RWMutex
	history   map[string][]*models.AttemptRecord
	retention time.Duration
	repo      *repositories.LockoutRepository
	logger    *slog.Logger
}

// NewAttemptStore creates an empty store with the given retention window
func NewAttemptStore(repo *repositories.LockoutRepository, retention time.Duration, logger *slog.Logger) *AttemptStore {
	return &AttemptStore{
		history:   make(map[string][]*models.AttemptRecord),
		retention: retention,
		repo:      repo,
		logger:    logger,
	}
}

// Record appends a new immutable attempt record, trims history older than
// the retention window and persists the trimmed list asynchronously
func (s *AttemptStore) Record(principalID, deviceID, sourceAddress string, success bool, method models.AttemptMethod, errorCode *string, riskScore int, attemptCtx models.AttemptContext) *models.AttemptRecord {
	record := &models.AttemptRecord{
		ID:            uuid.NewString(),
		PrincipalID:   principalID,
		DeviceID:      deviceID,
		SourceAddress: sourceAddress,
		Timestamp:     time.Now(),
		Success:       success,
		Method:        method,
		ErrorCode:     errorCode,
		RiskScore:     riskScore,
		Context:       attemptCtx,
	}

	s.mu.Lock()
	records := append(s.history[principalID], record)
	records = trimOlderThan(records, record.Timestamp.Add(-s.retention))
	s.history[principalID] = records
	snapshot := make([]*models.AttemptRecord, len(records))
	copy(snapshot, records)
	s.mu.Unlock()

	s.persistHistory(principalID, snapshot)

	return record
}

// Recent returns the retained attempts for a principal within the window,
// oldest first. A zero window returns all retained history; an unknown
// principal yields an empty slice.
func (s *AttemptStore) Recent(principalID string, window time.Duration) []*models.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.history[principalID]
	if window <= 0 {
		out := make([]*models.AttemptRecord, len(records))
		copy(out, records)
		return out
	}

	cutoff := time.Now().Add(-window)
	var out []*models.AttemptRecord
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// LastActivity returns the timestamp of the newest retained attempt
func (s *AttemptStore) LastActivity(principalID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.history[principalID]
	if len(records) == 0 {
		return time.Time{}, false
	}
	return records[len(records)-1].Timestamp, true
}

// Restore replaces a principal's history from persisted records, dropping
// anything already past retention. Used during startup recovery.
func (s *AttemptStore) Restore(principalID string, records []*models.AttemptRecord) {
	records = trimOlderThan(records, time.Now().Add(-s.retention))

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) == 0 {
		delete(s.history, principalID)
		return
	}
	s.history[principalID] = records
}

// Prune drops records past retention for every principal and re-persists the
// principals that changed. Returns the number of records dropped.
func (s *AttemptStore) Prune() int {
	cutoff := time.Now().Add(-s.retention)
	changed := make(map[string][]*models.AttemptRecord)

	s.mu.Lock()
	pruned := 0
	for principalID, records := range s.history {
		trimmed := trimOlderThan(records, cutoff)
		if len(trimmed) == len(records) {
			continue
		}
		pruned += len(records) - len(trimmed)
		if len(trimmed) == 0 {
			delete(s.history, principalID)
		} else {
			s.history[principalID] = trimmed
		}
		snapshot := make([]*models.AttemptRecord, len(trimmed))
		copy(snapshot, trimmed)
		changed[principalID] = snapshot
	}
	s.mu.Unlock()

	for principalID, records := range changed {
		s.persistHistory(principalID, records)
	}
	return pruned
}

// Remove forgets a principal's history entirely (cleanup pass)
func (s *AttemptStore) Remove(principalID string) {
	s.mu.Lock()
	delete(s.history, principalID)
	s.mu.Unlock()
}

// Principals lists every principal with retained history
func (s *AttemptStore) Principals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.history))
	for id := range s.history {
		out = append(out, id)
	}
	return out
}

// Snapshot returns all retained attempts across principals within the window
func (s *AttemptStore) Snapshot(window time.Duration) []*models.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var out []*models.AttemptRecord
	for _, records := range s.history {
		for _, r := range records {
			if window <= 0 || r.Timestamp.After(cutoff) {
				out = append(out, r)
			}
		}
	}
	return out
}

// persistHistory mirrors the trimmed list to the durable store. A storage
// failure must never block or fail the authentication decision.
func (s *AttemptStore) persistHistory(principalID string, records []*models.AttemptRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.SaveHistory(ctx, principalID, records); err != nil {
			s.logger.Warn("failed to persist attempt history",
				slog.String("principal_id", principalID),
				slog.Any("error", err))
		}
	}()
}

func trimOlderThan(records []*models.AttemptRecord, cutoff time.Time) []*models.AttemptRecord {
	idx := 0
	for idx < len(records) && !records[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx == 0 {
		return records
	}
	return append([]*models.AttemptRecord(nil), records[idx:]...)
}
