package repositories

import "context"

// Key prefixes for the durable store. One value per principal per prefix.
const (
	statusKeyPrefix  = "lockout_state_"
	historyKeyPrefix = "lockout_attempts_"
)

// KVStore is the generic durable key-value contract the engine persists
// through. Any backend (in-memory, Redis, Postgres) satisfies it; the engine
// treats the store as a recovery mirror, not the source of truth.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
