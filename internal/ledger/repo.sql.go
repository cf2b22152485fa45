package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// Repository persists stock batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateBatch(ctx context.Context, batch StockBatch) (StockBatch, error) {
	if r == nil {
		return StockBatch{}, errors.New("ledger repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_batches (product_id, warehouse_id, baseline_qty, unit_cost, retail_price, wholesale_price, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		batch.ProductID, batch.WarehouseID, batch.BaselineQty, batch.UnitCost, batch.RetailPrice, batch.WholesalePrice, nullTime(batch.ExpiresAt)).
		Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
	return batch, err
}

func (r *Repository) GetBatch(ctx context.Context, batchID int64) (StockBatch, error) {
	if r == nil {
		return StockBatch{}, errors.New("ledger repository not initialised")
	}
	var batch StockBatch
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, warehouse_id, baseline_qty, unit_cost, retail_price, wholesale_price, expires_at, created_at, updated_at
FROM stock_batches WHERE id=$1`, batchID).
		Scan(&batch.ID, &batch.ProductID, &batch.WarehouseID, &batch.BaselineQty, &batch.UnitCost, &batch.RetailPrice, &batch.WholesalePrice, &expiresAt, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, shared.ErrNotFound
		}
		return StockBatch{}, err
	}
	if expiresAt != nil {
		batch.ExpiresAt = *expiresAt
	}
	return batch, nil
}

func (r *Repository) UpdateBaseline(ctx context.Context, batchID int64, newQty float64) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_batches SET baseline_qty=$2, updated_at=NOW() WHERE id=$1`, batchID, newQty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
