package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter persists snapshots in a single table, one row per slot.
// Grounded on the teacher's cmd/api and cmd/worker pgxpool.New wiring:
// the pool is constructed by the caller and handed in, the adapter itself
// just runs queries against it.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter wraps an existing pool. Callers own the pool's
// lifecycle (pool.Close()).
func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// EnsureSchema creates the backing table if it does not already exist.
// Safe to call repeatedly at startup.
func (a *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS queryflux_snapshots (
			slot       TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Load implements Adapter.
func (a *PostgresAdapter) Load(ctx context.Context, slot string) ([]byte, bool, error) {
	var data []byte
	err := a.pool.QueryRow(ctx, `SELECT data FROM queryflux_snapshots WHERE slot = $1`, slot).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Save implements Adapter, upserting the row for slot.
func (a *PostgresAdapter) Save(ctx context.Context, slot string, data []byte) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO queryflux_snapshots (slot, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (slot) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		slot, data)
	return err
}
