package availability

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// Repository reads derivation inputs from PostgreSQL. It never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const batchInputsQuery = `SELECT b.id, b.warehouse_id, b.baseline_qty, b.expires_at,
	COALESCE((SELECT SUM(a.delta) FROM adjustments a WHERE a.batch_id=b.id AND a.status='COMPLETED'), 0),
	COALESCE((SELECT SUM(al.qty) FROM stock_allocations al WHERE al.batch_id=b.id), 0)
FROM stock_batches b`

func (r *Repository) BatchInputsForProduct(ctx context.Context, productID, warehouseID int64) ([]BatchInputs, []BatchMeta, error) {
	if r == nil {
		return nil, nil, errors.New("availability repository not initialised")
	}
	query := batchInputsQuery + ` WHERE b.product_id=$1`
	args := []any{productID}
	if warehouseID != 0 {
		query += ` AND b.warehouse_id=$2`
		args = append(args, warehouseID)
	}
	query += ` ORDER BY b.id ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var inputs []BatchInputs
	var metas []BatchMeta
	for rows.Next() {
		in, meta, err := scanBatchInputs(rows)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, in)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for i := range inputs {
		holds, err := r.activeHolds(ctx, inputs[i].BatchID)
		if err != nil {
			return nil, nil, err
		}
		inputs[i].Holds = holds
	}
	return inputs, metas, nil
}

func (r *Repository) BatchInputsByID(ctx context.Context, batchID int64) (BatchInputs, BatchMeta, error) {
	if r == nil {
		return BatchInputs{}, BatchMeta{}, errors.New("availability repository not initialised")
	}
	rows, err := r.pool.Query(ctx, batchInputsQuery+` WHERE b.id=$1`, batchID)
	if err != nil {
		return BatchInputs{}, BatchMeta{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return BatchInputs{}, BatchMeta{}, err
		}
		return BatchInputs{}, BatchMeta{}, shared.ErrNotFound
	}
	in, meta, err := scanBatchInputs(rows)
	rows.Close()
	if err != nil {
		return BatchInputs{}, BatchMeta{}, err
	}
	holds, err := r.activeHolds(ctx, batchID)
	if err != nil {
		return BatchInputs{}, BatchMeta{}, err
	}
	in.Holds = holds
	return in, meta, nil
}

func (r *Repository) activeHolds(ctx context.Context, batchID int64) ([]ReservationHold, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, qty, expires_at FROM reservations WHERE batch_id=$1 AND status='ACTIVE' ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var holds []ReservationHold
	for rows.Next() {
		var h ReservationHold
		if err := rows.Scan(&h.ReservationID, &h.SessionID, &h.Qty, &h.ExpiresAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func scanBatchInputs(rows pgx.Rows) (BatchInputs, BatchMeta, error) {
	var in BatchInputs
	var meta BatchMeta
	var adjSum float64
	var expiresAt *time.Time
	if err := rows.Scan(&in.BatchID, &meta.WarehouseID, &in.Baseline, &expiresAt, &adjSum, &in.AllocatedOut); err != nil {
		return BatchInputs{}, BatchMeta{}, err
	}
	meta.BatchID = in.BatchID
	if expiresAt != nil {
		meta.ExpiresAt = *expiresAt
	}
	if adjSum != 0 {
		in.AdjustmentDeltas = []float64{adjSum}
	}
	return in, meta, nil
}
