package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crewshift/pinlock/internal/models"
)

// LockoutRepository persists per-principal lockout state and attempt history
// through a generic KVStore. It is a recovery mirror: the engine keeps the
// authoritative copy in memory and writes through best-effort.
type LockoutRepository struct {
	store KVStore
}

// NewLockoutRepository creates a repository over the given store
func NewLockoutRepository(store KVStore) *LockoutRepository {
	return &LockoutRepository{store: store}
}

// SaveStatus persists the lockout status for a principal
func (r *LockoutRepository) SaveStatus(ctx context.Context, status *models.LockoutStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal lockout status: %w", err)
	}
	return r.store.Set(ctx, statusKeyPrefix+status.PrincipalID, data)
}

// LoadStatus returns the persisted status for a principal, or nil if none
// was ever saved
func (r *LockoutRepository) LoadStatus(ctx context.Context, principalID string) (*models.LockoutStatus, error) {
	data, err := r.store.Get(ctx, statusKeyPrefix+principalID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status models.LockoutStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal lockout status: %w", err)
	}
	return &status, nil
}

// SaveHistory persists the retained attempt history for a principal
func (r *LockoutRepository) SaveHistory(ctx context.Context, principalID string, records []*models.AttemptRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal attempt history: %w", err)
	}
	return r.store.Set(ctx, historyKeyPrefix+principalID, data)
}

// LoadHistory returns the persisted attempt history for a principal, oldest
// first. An unknown principal yields an empty slice.
func (r *LockoutRepository) LoadHistory(ctx context.Context, principalID string) ([]*models.AttemptRecord, error) {
	data, err := r.store.Get(ctx, historyKeyPrefix+principalID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []*models.AttemptRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal attempt history: %w", err)
	}
	return records, nil
}

// DeletePrincipal removes all persisted state for a principal
func (r *LockoutRepository) DeletePrincipal(ctx context.Context, principalID string) error {
	if err := r.store.Delete(ctx, statusKeyPrefix+principalID); err != nil {
		return err
	}
	return r.store.Delete(ctx, historyKeyPrefix+principalID)
}

// Principals enumerates every principal with persisted state or history.
// Used once at startup to rebuild the in-memory index.
func (r *LockoutRepository) Principals(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	for _, prefix := range []string{statusKeyPrefix, historyKeyPrefix} {
		keys, err := r.store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			seen[strings.TrimPrefix(key, prefix)] = struct{}{}
		}
	}

	principals := make([]string, 0, len(seen))
	for id := range seen {
		principals = append(principals, id)
	}
	return principals, nil
}
