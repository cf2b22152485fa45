package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
)

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetReservation(ctx context.Context, id string) (Reservation, error) {
	if r == nil {
		return Reservation{}, errors.New("reservation repository not initialised")
	}
	return scanReservation(r.pool.QueryRow(ctx, reservationQuery+` WHERE id=$1`, id))
}

// ReleaseExpired transitions every ACTIVE reservation past its expiry in one
// statement. The WHERE clause makes each row transition atomic, so concurrent
// sweeps cannot double-release.
func (r *Repository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	if r == nil {
		return 0, errors.New("reservation repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status='RELEASED', released_at=$1
WHERE status='ACTIVE' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseAllForSession releases the session's ACTIVE holds for cart abandonment.
func (r *Repository) ReleaseAllForSession(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	if r == nil {
		return 0, errors.New("reservation repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status='RELEASED', released_at=$2
WHERE status='ACTIVE' AND session_id=$1`, sessionID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const reservationQuery = `SELECT id, batch_id, qty, session_id, status, created_at, expires_at, COALESCE(released_at, 'epoch'::timestamptz)
FROM reservations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (Reservation, error) {
	var res Reservation
	var status string
	err := row.Scan(&res.ID, &res.BatchID, &res.Qty, &res.SessionID, &status, &res.CreatedAt, &res.ExpiresAt, &res.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, shared.ErrNotFound
		}
		return Reservation{}, err
	}
	res.Status = Status(status)
	return res, nil
}

func (r *txRepository) BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error) {
	return availability.InputsForUpdate(ctx, r.tx, batchID)
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO reservations (id, batch_id, qty, session_id, status, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, res.ID, res.BatchID, res.Qty, res.SessionID, string(res.Status), res.CreatedAt, res.ExpiresAt)
	return err
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id string) (Reservation, error) {
	return scanReservation(r.tx.QueryRow(ctx, reservationQuery+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStatus(ctx context.Context, id string, status Status, releasedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE reservations SET status=$2, released_at=$3 WHERE id=$1`, id, string(status), releasedAt)
	return err
}
