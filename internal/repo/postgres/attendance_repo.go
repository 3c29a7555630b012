package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttendanceRepo interface {
	ledger.Store
	FindEvents(ctx context.Context, from, to time.Time) ([]domain.AttendanceEventWithUser, error)
	GetByID(ctx context.Context, id string) (*domain.AttendanceEvent, error)
	// UpdateTimes rewrites occurred_at for each id in one transaction and
	// marks the events as manually edited. Unknown ids are not an error.
	UpdateTimes(ctx context.Context, updates map[string]time.Time) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type AttendanceRepoImpl struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewAttendanceRepo(pool *pgxpool.Pool, timeout time.Duration) *AttendanceRepoImpl {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &AttendanceRepoImpl{pool: pool, timeout: timeout}
}

const eventCols = `id, user_id, site_id, kind, occurred_at, source, created_at`

// WithUserLock runs fn in a transaction holding the user's row lock, so two
// scans for the same user serialize on the latest-event read.
func (r *AttendanceRepoImpl) WithUserLock(ctx context.Context, userID int64, fn func(context.Context, ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&locked)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("user %d does not exist", userID)
	}
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LatestEvent(ctx context.Context, userID int64, from, to time.Time) (*domain.AttendanceEvent, error) {
	const q = `
SELECT ` + eventCols + `
FROM attendance_events
WHERE user_id=$1 AND occurred_at >= $2 AND occurred_at <= $3
ORDER BY occurred_at DESC, seq DESC
LIMIT 1`
	var e domain.AttendanceEvent
	err := t.tx.QueryRow(ctx, q, userID, from, to).Scan(
		&e.ID, &e.UserID, &e.SiteID, &e.Kind, &e.OccurredAt, &e.Source, &e.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) CreateEvent(ctx context.Context, ev *domain.AttendanceEvent) error {
	const q = `
INSERT INTO attendance_events (id, user_id, site_id, kind, occurred_at, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := t.tx.Exec(ctx, q, ev.ID, ev.UserID, ev.SiteID, ev.Kind, ev.OccurredAt, ev.Source, ev.CreatedAt)
	return err
}

func (r *AttendanceRepoImpl) FindEvents(ctx context.Context, from, to time.Time) ([]domain.AttendanceEventWithUser, error) {
	const q = `
SELECT e.id, e.user_id, e.site_id, e.kind, e.occurred_at, e.source, e.created_at,
       u.name, u.contact, u.image
FROM attendance_events e
JOIN users u ON u.id = e.user_id
WHERE e.occurred_at >= $1 AND e.occurred_at <= $2
ORDER BY e.occurred_at ASC, e.seq ASC`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AttendanceEventWithUser
	for rows.Next() {
		var e domain.AttendanceEventWithUser
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.SiteID, &e.Kind, &e.OccurredAt, &e.Source, &e.CreatedAt,
			&e.UserName, &e.UserContact, &e.UserImage,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AttendanceRepoImpl) GetByID(ctx context.Context, id string) (*domain.AttendanceEvent, error) {
	const q = `SELECT ` + eventCols + ` FROM attendance_events WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var e domain.AttendanceEvent
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.UserID, &e.SiteID, &e.Kind, &e.OccurredAt, &e.Source, &e.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *AttendanceRepoImpl) UpdateTimes(ctx context.Context, updates map[string]time.Time) (int64, error) {
	const q = `UPDATE attendance_events SET occurred_at=$2, source='MANUAL' WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var n int64
	for id, at := range updates {
		ct, err := tx.Exec(ctx, q, id, at)
		if err != nil {
			return 0, err
		}
		n += ct.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *AttendanceRepoImpl) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `DELETE FROM attendance_events WHERE id = ANY($1)`
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ct, err := r.pool.Exec(ctx, q, ids)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

var _ AttendanceRepo = (*AttendanceRepoImpl)(nil)
