package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/crewshift/pinlock/internal/database"
	"github.com/crewshift/pinlock/internal/models"
)

// PostgresKVStore backs the persistence adapter with a single lockout_kv
// table (see migrations). The updated_at column exists for operational
// inspection only; the engine never reads it.
type PostgresKVStore struct {
	db *database.DB
}

// NewPostgresKVStore creates a store over an established connection pool
func NewPostgresKVStore(db *database.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

func (s *PostgresKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM lockout_kv WHERE key = $1`

	var value []byte
	err := s.db.Pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PostgresKVStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO lockout_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`

	_, err := s.db.Pool.Exec(ctx, query, key, value)
	return err
}

func (s *PostgresKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM lockout_kv WHERE key = $1`, key)
	return err
}

func (s *PostgresKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM lockout_kv WHERE key LIKE $1 || '%'`

	rows, err := s.db.Pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
