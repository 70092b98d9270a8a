package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

// evictBatch caps how many expired keys one eviction statement removes.
const evictBatch = 500

const windowSchema = `
	CREATE TABLE IF NOT EXISTS window_keys (
		key        TEXT PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS window_events (
		key   TEXT   NOT NULL,
		score BIGINT NOT NULL,
		PRIMARY KEY (key, score)
	);
	CREATE INDEX IF NOT EXISTS window_keys_expires_at ON window_keys (expires_at);
`

// Keys whose advisory lock is held by a running batch are skipped and picked
// up by a later sweep.
const evictSQL = `
	WITH expired AS (
		DELETE FROM window_keys
		WHERE key IN (
			SELECT key FROM window_keys
			WHERE expires_at <= now()
			ORDER BY expires_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		AND expires_at <= now()
		AND pg_try_advisory_xact_lock(hashtextextended(key, 0))
		RETURNING key
	), purged AS (
		DELETE FROM window_events e USING expired x WHERE e.key = x.key
	)
	SELECT count(*) FROM expired
`

// PostgresWindowStore is a PostgreSQL implementation of ratelimit.Store.
// A transaction-scoped advisory lock on the key serializes batches, and key
// expiry is emulated with window_keys.expires_at.
type PostgresWindowStore struct {
	pool *pgxpool.Pool
}

// NewPostgresWindowStore creates a new PostgreSQL-backed window store.
func NewPostgresWindowStore(pool *pgxpool.Pool) *PostgresWindowStore {
	return &PostgresWindowStore{pool: pool}
}

// EnsureSchema creates the tables used by the store.
func (p *PostgresWindowStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, windowSchema); err != nil {
		return fmt.Errorf("create window schema: %w", err)
	}

	return nil
}

func (p *PostgresWindowStore) SubmitWindow(ctx context.Context, batch ratelimit.WindowBatch) (ratelimit.WindowReply, error) {
	var reply ratelimit.WindowReply

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, batch.Key); err != nil {
			return err
		}

		// An expired key behaves as if it never existed.
		if _, err := tx.Exec(ctx, `
			DELETE FROM window_events e
			USING window_keys k
			WHERE e.key = $1 AND k.key = $1 AND k.expires_at <= now()
		`, batch.Key); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM window_events WHERE key = $1 AND score >= 0 AND score < $2
		`, batch.Key, batch.PruneBefore); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM window_events WHERE key = $1
		`, batch.Key).Scan(&reply.Count); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO window_events (key, score) VALUES ($1, $2)
			ON CONFLICT (key, score) DO NOTHING
		`, batch.Key, batch.Member); err != nil {
			return err
		}

		if batch.WantOldest {
			err := tx.QueryRow(ctx, `
				SELECT score FROM window_events WHERE key = $1 ORDER BY score LIMIT 1
			`, batch.Key).Scan(&reply.Oldest)

			switch {
			case err == nil:
				reply.HasOldest = true
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO window_keys (key, expires_at)
			VALUES ($1, now() + make_interval(secs => $2::float8 / 1000))
			ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		`, batch.Key, batch.TTL.Milliseconds())

		return err
	})
	if err != nil {
		return ratelimit.WindowReply{}, err
	}

	return reply, nil
}

// Evict deletes expired keys and their events, in batches, and returns how
// many keys were removed. SubmitWindow already ignores expired rows, so this
// only reclaims space.
func (p *PostgresWindowStore) Evict(ctx context.Context) (int64, error) {
	var total int64

	for {
		var n int64
		if err := p.pool.QueryRow(ctx, evictSQL, evictBatch).Scan(&n); err != nil {
			return total, fmt.Errorf("evict expired windows: %w", err)
		}

		total += n

		if n < evictBatch {
			return total, nil
		}
	}
}

// StartEviction calls Evict every interval until the returned Evictor is
// shut down. Failures are logged and retried on the next tick.
func (p *PostgresWindowStore) StartEviction(interval time.Duration, logger *zap.Logger) *Evictor {
	return startEvictor(interval, func(ctx context.Context) {
		n, err := p.Evict(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("window eviction failed", zap.Error(err))
			}

			return
		}

		if n > 0 {
			logger.Debug("evicted expired windows", zap.Int64("keys", n))
		}
	})
}

// Ping checks PostgreSQL connectivity.
func (p *PostgresWindowStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

var _ ratelimit.Store = (*PostgresWindowStore)(nil)
