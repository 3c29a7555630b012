package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type RateLimitRepo interface {
	// Allow counts a hit for key and reports whether it is within limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type RateLimitRepoImpl struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepo(pool *pgxpool.Pool) *RateLimitRepoImpl {
	return &RateLimitRepoImpl{pool: pool}
}

func (r *RateLimitRepoImpl) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	hashedKey := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	now := time.Now()
	windowStart := now.Add(-window)

	// Single UPSERT so concurrent hits on one key count atomically.
	query := `
		INSERT INTO rate_limits (rl_key, count, window_start, expires_at)
		VALUES ($1, 1, $4, $3)
		ON CONFLICT (rl_key) DO UPDATE SET
			count = CASE
				WHEN rate_limits.window_start < $2 THEN 1
				ELSE rate_limits.count + 1
			END,
			window_start = CASE
				WHEN rate_limits.window_start < $2 THEN $4
				ELSE rate_limits.window_start
			END,
			expires_at = $3
		RETURNING count`

	var count int
	if err := r.pool.QueryRow(ctx, query, hashedKey, windowStart, now.Add(window+time.Hour), now).Scan(&count); err != nil {
		return true, err
	}
	return count <= limit, nil
}

func (r *RateLimitRepoImpl) CleanupExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM rate_limits WHERE expires_at < now()`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

var _ RateLimitRepo = (*RateLimitRepoImpl)(nil)
