package transfer

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

// Repository persists transfers and transfer requests in PostgreSQL.
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
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) CreateTransfer(ctx context.Context, tr Transfer) (Transfer, error) {
	if r == nil {
		return Transfer{}, errors.New("transfer repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO transfers (reference, source_id, dest_id, status, request_id, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,NULLIF($5,0),$6,NOW(),NOW()) RETURNING id, created_at, updated_at`,
			tr.Reference, tr.SourceID, tr.DestID, string(tr.Status), tr.RequestID, tr.CreatedBy).
			Scan(&tr.ID, &tr.CreatedAt, &tr.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range tr.Lines {
			line := &tr.Lines[i]
			line.TransferID = tr.ID
			err := tx.QueryRow(ctx, `INSERT INTO transfer_lines (transfer_id, batch_id, product_id, requested_qty, approved_qty, fulfilled_qty)
VALUES ($1,$2,$3,$4,0,0) RETURNING id`,
				tr.ID, line.BatchID, line.ProductID, line.RequestedQty).Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return tr, err
}

const transferQuery = `SELECT id, reference, source_id, dest_id, status, COALESCE(request_id, 0), created_by,
COALESCE(received_by, 0), COALESCE(received_at, 'epoch'::timestamptz), created_at, updated_at
FROM transfers`

func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	if r == nil {
		return Transfer{}, errors.New("transfer repository not initialised")
	}
	tr, err := scanTransfer(r.pool.QueryRow(ctx, transferQuery+` WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Lines, err = loadLines(ctx, r.pool, id)
	return tr, err
}

// ListTransfers returns transfers newest-first, optionally filtered by status.
func (r *Repository) ListTransfers(ctx context.Context, status Status, limit int) ([]Transfer, error) {
	if r == nil {
		return nil, errors.New("transfer repository not initialised")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := transferQuery + ` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, transferID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, batch_id, product_id, requested_qty, approved_qty, fulfilled_qty
FROM transfer_lines WHERE transfer_id=$1 ORDER BY id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var line LineItem
		if err := rows.Scan(&line.ID, &line.TransferID, &line.BatchID, &line.ProductID, &line.RequestedQty, &line.ApprovedQty, &line.FulfilledQty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var tr Transfer
	var status string
	err := row.Scan(&tr.ID, &tr.Reference, &tr.SourceID, &tr.DestID, &status, &tr.RequestID, &tr.CreatedBy,
		&tr.ReceivedBy, &tr.ReceivedAt, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.ErrNotFound
		}
		return Transfer{}, err
	}
	tr.Status = Status(status)
	return tr, nil
}

func (r *Repository) CreateRequest(ctx context.Context, req TransferRequest) (TransferRequest, error) {
	if r == nil {
		return TransferRequest{}, errors.New("transfer repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO transfer_requests (storefront_id, status, priority, requested_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`,
			req.StorefrontID, string(req.Status), string(req.Priority), req.RequestedBy).
			Scan(&req.ID, &req.CreatedAt)
		if err != nil {
			return err
		}
		for i := range req.Lines {
			line := &req.Lines[i]
			line.RequestID = req.ID
			err := tx.QueryRow(ctx, `INSERT INTO transfer_request_lines (request_id, product_id, qty)
VALUES ($1,$2,$3) RETURNING id`, req.ID, line.ProductID, line.Qty).Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return req, err
}

const requestQuery = `SELECT id, storefront_id, status, priority, COALESCE(transfer_id, 0), requested_by,
COALESCE(fulfilled_by, 0), COALESCE(fulfilled_at, 'epoch'::timestamptz), created_at
FROM transfer_requests`

func (r *Repository) GetRequest(ctx context.Context, id int64) (TransferRequest, error) {
	if r == nil {
		return TransferRequest{}, errors.New("transfer repository not initialised")
	}
	req, err := scanRequest(r.pool.QueryRow(ctx, requestQuery+` WHERE id=$1`, id))
	if err != nil {
		return TransferRequest{}, err
	}
	req.Lines, err = loadRequestLines(ctx, r.pool, id)
	return req, err
}

// ListRequests returns open requests ordered urgent-first, oldest-first within
// the same priority, so fulfillment staff work the queue in order.
func (r *Repository) ListRequests(ctx context.Context, status RequestStatus, limit int) ([]TransferRequest, error) {
	if r == nil {
		return nil, errors.New("transfer repository not initialised")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := requestQuery + ` WHERE ($1 = '' OR status = $1)
ORDER BY CASE priority WHEN 'URGENT' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'NORMAL' THEN 2 ELSE 3 END, created_at ASC, id ASC
LIMIT $2`
	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransferRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func loadRequestLines(ctx context.Context, q querier, requestID int64) ([]RequestLine, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, product_id, qty FROM transfer_request_lines WHERE request_id=$1 ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []RequestLine
	for rows.Next() {
		var line RequestLine
		if err := rows.Scan(&line.ID, &line.RequestID, &line.ProductID, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanRequest(row rowScanner) (TransferRequest, error) {
	var req TransferRequest
	var status, priority string
	err := row.Scan(&req.ID, &req.StorefrontID, &status, &priority, &req.TransferID, &req.RequestedBy,
		&req.FulfilledBy, &req.FulfilledAt, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransferRequest{}, shared.ErrNotFound
		}
		return TransferRequest{}, err
	}
	req.Status = RequestStatus(status)
	req.Priority = Priority(priority)
	return req, nil
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(r.tx.QueryRow(ctx, transferQuery+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Lines, err = loadLines(ctx, r.tx, id)
	return tr, err
}

func (r *txRepository) UpdateTransferStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdateLineApprovedQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET approved_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

func (r *txRepository) UpdateLineFulfilledQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET fulfilled_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

func (r *txRepository) SetReceipt(ctx context.Context, id int64, receivedBy int64, receivedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET received_by=$2, received_at=$3, updated_at=NOW() WHERE id=$1`, id, receivedBy, receivedAt)
	return err
}

func (r *txRepository) BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error) {
	return availability.InputsForUpdate(ctx, r.tx, batchID)
}

func (r *txRepository) BatchProduct(ctx context.Context, batchID int64) (int64, error) {
	var productID int64
	err := r.tx.QueryRow(ctx, `SELECT product_id FROM stock_batches WHERE id=$1`, batchID).Scan(&productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return productID, nil
}

func (r *txRepository) InsertAllocation(ctx context.Context, batchID, transferID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_allocations (batch_id, transfer_id, qty, allocated_at)
VALUES ($1,NULLIF($2,0),$3,NOW())`, batchID, transferID, qty)
	return err
}

func (r *txRepository) SetAllocationQty(ctx context.Context, transferID, batchID int64, qty float64) error {
	if qty <= 0 {
		_, err := r.tx.Exec(ctx, `DELETE FROM stock_allocations WHERE transfer_id=$1 AND batch_id=$2`, transferID, batchID)
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE stock_allocations SET qty=$3 WHERE transfer_id=$1 AND batch_id=$2`, transferID, batchID, qty)
	return err
}

func (r *txRepository) DeleteAllocations(ctx context.Context, transferID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_allocations WHERE transfer_id=$1`, transferID)
	return err
}

func (r *txRepository) AddLocationStock(ctx context.Context, locationID, productID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_stock (location_id, product_id, on_hand, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (location_id, product_id) DO UPDATE SET on_hand = location_stock.on_hand + EXCLUDED.on_hand, updated_at = NOW()`,
		locationID, productID, qty)
	return err
}

func (r *txRepository) GetRequestForUpdate(ctx context.Context, id int64) (TransferRequest, error) {
	req, err := scanRequest(r.tx.QueryRow(ctx, requestQuery+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return TransferRequest{}, err
	}
	req.Lines, err = loadRequestLines(ctx, r.tx, id)
	return req, err
}

func (r *txRepository) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus, transferID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_requests SET status=$2, transfer_id=NULLIF($3,0) WHERE id=$1`, id, string(status), transferID)
	return err
}

func (r *txRepository) SetRequestFulfilled(ctx context.Context, id int64, fulfilledBy int64, fulfilledAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_requests SET status='FULFILLED', fulfilled_by=$2, fulfilled_at=$3 WHERE id=$1`, id, fulfilledBy, fulfilledAt)
	return err
}
