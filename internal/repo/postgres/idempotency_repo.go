package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepo stores replayable scan responses when Redis is not
// configured. It satisfies the pkg/middleware IdempotencyStore contract.
type IdempotencyRepo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type IdempotencyRepoImpl struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepoImpl {
	return &IdempotencyRepoImpl{pool: pool}
}

// Get returns "" for a missing or expired key. Keys arrive already hashed.
func (r *IdempotencyRepoImpl) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var body string
	err := r.pool.QueryRow(ctx,
		`SELECT response FROM scan_idempotency WHERE key_hash = $1 AND expires_at > now()`, key,
	).Scan(&body)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// Set keeps the first stored response for a key until it expires.
func (r *IdempotencyRepoImpl) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO scan_idempotency (key_hash, response, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key_hash) DO UPDATE
SET response = EXCLUDED.response, expires_at = EXCLUDED.expires_at
WHERE scan_idempotency.expires_at <= now()`,
		key, value, time.Now().Add(ttl))
	return err
}

func (r *IdempotencyRepoImpl) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM scan_idempotency WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

var _ IdempotencyRepo = (*IdempotencyRepoImpl)(nil)
