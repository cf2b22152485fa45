package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// Repository reads reconciliation inputs from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) RecordedBaseline(ctx context.Context, batchID int64) (float64, error) {
	if r == nil {
		return 0, errors.New("reconcile repository not initialised")
	}
	var baseline float64
	err := r.pool.QueryRow(ctx, `SELECT baseline_qty FROM stock_batches WHERE id=$1`, batchID).Scan(&baseline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return baseline, nil
}

// Components gathers every formula input in one snapshot query. The allocation
// sum appears twice on purpose: stock pushed to storefronts has left the
// warehouse but is still accountable inventory.
func (r *Repository) Components(ctx context.Context, batchID int64) (Components, error) {
	if r == nil {
		return Components{}, errors.New("reconcile repository not initialised")
	}
	var c Components
	err := r.pool.QueryRow(ctx, `SELECT
  sb.baseline_qty
    + COALESCE((SELECT SUM(a.delta) FROM adjustments a WHERE a.batch_id = sb.id AND a.status = 'COMPLETED'), 0)
    - COALESCE((SELECT SUM(sa.qty) FROM stock_allocations sa WHERE sa.batch_id = sb.id), 0),
  COALESCE((SELECT SUM(sa.qty) FROM stock_allocations sa WHERE sa.batch_id = sb.id), 0),
  COALESCE((SELECT SUM(rv.qty) FROM reservations rv WHERE rv.batch_id = sb.id AND rv.status = 'COMMITTED'), 0),
  COALESCE((SELECT -SUM(a.delta) FROM adjustments a WHERE a.batch_id = sb.id AND a.status = 'COMPLETED'
    AND a.adj_type IN ('theft','damage','expired','spoilage','loss','write_off')), 0),
  COALESCE((SELECT SUM(a.delta) FROM adjustments a WHERE a.batch_id = sb.id AND a.status = 'COMPLETED'
    AND a.adj_type IN ('correction','correction_increase','stock_count_correction')), 0),
  COALESCE((SELECT SUM(rv.qty) FROM reservations rv WHERE rv.batch_id = sb.id AND rv.status = 'ACTIVE'), 0)
FROM stock_batches sb WHERE sb.id = $1`, batchID).
		Scan(&c.WarehouseOnHand, &c.StorefrontOnHand, &c.SoldUnits, &c.ShrinkageUnits, &c.CorrectionUnits, &c.ReservationsUnits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Components{}, shared.ErrNotFound
		}
		return Components{}, err
	}
	return c, nil
}

func (r *Repository) BatchIDsForProduct(ctx context.Context, productID int64) ([]int64, error) {
	if r == nil {
		return nil, errors.New("reconcile repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM stock_batches WHERE product_id=$1 ORDER BY id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
