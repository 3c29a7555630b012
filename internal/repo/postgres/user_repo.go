package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo interface {
	// Create inserts a user unless the name is taken, in which case it
	// returns the existing user and created=false.
	Create(ctx context.Context, name, contact, image string) (u *domain.User, created bool, err error)
	FindByName(ctx context.Context, name string) (*domain.User, error)
	UpdateContact(ctx context.Context, name, contact string) (int64, error)
	// DeleteByName removes the user with that name and their events.
	DeleteByName(ctx context.Context, name string) (usersRemoved, eventsRemoved int64, err error)
}

type UsersRepoImpl struct{ pool *pgxpool.Pool }

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepoImpl { return &UsersRepoImpl{pool: pool} }

const userCols = `id, name, contact, image, created_at`

func (r *UsersRepoImpl) Create(ctx context.Context, name, contact, image string) (*domain.User, bool, error) {
	const q = `
INSERT INTO users (name, contact, image)
VALUES ($1,$2,$3)
ON CONFLICT (name) DO NOTHING
RETURNING ` + userCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var u domain.User
	err := r.pool.QueryRow(ctx, q, name, contact, image).Scan(
		&u.ID, &u.Name, &u.Contact, &u.Image, &u.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		existing, err := r.FindByName(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("user %q conflicted but was not found", name)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &u, true, nil
}

// FindByName returns the user with that display name, or nil.
func (r *UsersRepoImpl) FindByName(ctx context.Context, name string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE name=$1 ORDER BY id LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var u domain.User
	err := r.pool.QueryRow(ctx, q, name).Scan(
		&u.ID, &u.Name, &u.Contact, &u.Image, &u.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepoImpl) UpdateContact(ctx context.Context, name, contact string) (int64, error) {
	const q = `UPDATE users SET contact=$2 WHERE name=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ct, err := r.pool.Exec(ctx, q, name, contact)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *UsersRepoImpl) DeleteByName(ctx context.Context, name string) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	evTag, err := tx.Exec(ctx, `
DELETE FROM attendance_events
WHERE user_id IN (SELECT id FROM users WHERE name=$1)`, name)
	if err != nil {
		return 0, 0, err
	}
	userTag, err := tx.Exec(ctx, `DELETE FROM users WHERE name=$1`, name)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return userTag.RowsAffected(), evTag.RowsAffected(), nil
}

var _ UsersRepo = (*UsersRepoImpl)(nil)
