package availability

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/stocklane/stocklane/internal/shared"
)

// InputsForUpdate locks the batch row with SELECT ... FOR UPDATE, then loads
// the derivation inputs while the lock is held. Mutating components call this
// inside their transaction to get a serializable check-then-act window: two
// concurrent operations against the same batch queue on the row lock, and the
// loser re-reads state that already includes the winner's write.
func InputsForUpdate(ctx context.Context, tx pgx.Tx, batchID int64) (BatchInputs, error) {
	var in BatchInputs
	err := tx.QueryRow(ctx, `SELECT id, baseline_qty FROM stock_batches WHERE id=$1 FOR UPDATE`, batchID).
		Scan(&in.BatchID, &in.Baseline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchInputs{}, shared.ErrNotFound
		}
		return BatchInputs{}, err
	}
	var adjSum float64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM adjustments WHERE batch_id=$1 AND status='COMPLETED'`, batchID).Scan(&adjSum); err != nil {
		return BatchInputs{}, err
	}
	if adjSum != 0 {
		in.AdjustmentDeltas = []float64{adjSum}
	}
	rows, err := tx.Query(ctx, `SELECT id, session_id, qty, expires_at FROM reservations WHERE batch_id=$1 AND status='ACTIVE'`, batchID)
	if err != nil {
		return BatchInputs{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var h ReservationHold
		if err := rows.Scan(&h.ReservationID, &h.SessionID, &h.Qty, &h.ExpiresAt); err != nil {
			return BatchInputs{}, err
		}
		in.Holds = append(in.Holds, h)
	}
	if err := rows.Err(); err != nil {
		return BatchInputs{}, err
	}
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_allocations WHERE batch_id=$1`, batchID).Scan(&in.AllocatedOut); err != nil {
		return BatchInputs{}, err
	}
	return in, nil
}
