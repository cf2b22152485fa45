package adjustment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
)

// Repository persists adjustments in PostgreSQL.
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
		return errors.New("adjustment repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	if r == nil {
		return Adjustment{}, errors.New("adjustment repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO adjustments (batch_id, adj_type, delta, status, reason, requested_by, requested_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, requested_at`,
		adj.BatchID, string(adj.Type), adj.Delta, string(adj.Status), adj.Reason, adj.RequestedBy).
		Scan(&adj.ID, &adj.RequestedAt)
	return adj, err
}

func (r *Repository) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	if r == nil {
		return Adjustment{}, errors.New("adjustment repository not initialised")
	}
	return scanAdjustment(r.pool.QueryRow(ctx, adjustmentQuery+` WHERE id=$1`, id))
}

func (r *Repository) ListForBatch(ctx context.Context, batchID int64) ([]Adjustment, error) {
	if r == nil {
		return nil, errors.New("adjustment repository not initialised")
	}
	rows, err := r.pool.Query(ctx, adjustmentQuery+` WHERE batch_id=$1 ORDER BY requested_at ASC, id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

const adjustmentQuery = `SELECT id, batch_id, adj_type, delta, status, reason, requested_by, COALESCE(approved_by, 0), requested_at, COALESCE(decided_at, 'epoch'::timestamptz)
FROM adjustments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdjustment(row rowScanner) (Adjustment, error) {
	var adj Adjustment
	var adjType, status string
	err := row.Scan(&adj.ID, &adj.BatchID, &adjType, &adj.Delta, &status, &adj.Reason, &adj.RequestedBy, &adj.ApprovedBy, &adj.RequestedAt, &adj.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, shared.ErrNotFound
		}
		return Adjustment{}, err
	}
	adj.Type = Type(adjType)
	adj.Status = Status(status)
	return adj, nil
}

func (r *txRepository) GetAdjustmentForUpdate(ctx context.Context, id int64) (Adjustment, error) {
	return scanAdjustment(r.tx.QueryRow(ctx, adjustmentQuery+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error) {
	return availability.InputsForUpdate(ctx, r.tx, batchID)
}

func (r *txRepository) CompleteAdjustment(ctx context.Context, id int64, approver int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE adjustments SET status='COMPLETED', approved_by=$2, decided_at=NOW() WHERE id=$1`, id, approver)
	return err
}

func (r *txRepository) RejectAdjustment(ctx context.Context, id int64, approver int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE adjustments SET status='REJECTED', approved_by=$2, decided_at=NOW() WHERE id=$1`, id, approver)
	return err
}
