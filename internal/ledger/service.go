package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CreateBatch(ctx context.Context, batch StockBatch) (StockBatch, error)
	GetBatch(ctx context.Context, batchID int64) (StockBatch, error)
	UpdateBaseline(ctx context.Context, batchID int64, newQty float64) error
}

// IdempotencyPort guards receipt replay; nil disables the guard.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service owns the immutable baseline per stock batch.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	idempotency IdempotencyPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, idem IdempotencyPort) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// CreateBatch records a stock receipt. The baseline is written here once and
// only RecordManualCorrection may rewrite it afterwards.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (StockBatch, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return StockBatch{}, errors.New("ledger: product and warehouse required")
	}
	if input.BaselineQty < 0 {
		return StockBatch{}, errors.New("ledger: baseline quantity must be non-negative")
	}
	if input.UnitCost.IsNegative() {
		return StockBatch{}, errors.New("ledger: unit cost must be >= 0")
	}
	insertedKey := false
	if s.idempotency != nil && input.ReceiptCode != "" {
		key := fmt.Sprintf("receipt:%s:%d:%d", input.ReceiptCode, input.WarehouseID, input.ProductID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return StockBatch{}, err
		}
		insertedKey = true
	}
	batch, err := s.repo.CreateBatch(ctx, StockBatch{
		ProductID:      input.ProductID,
		WarehouseID:    input.WarehouseID,
		BaselineQty:    input.BaselineQty,
		UnitCost:       input.UnitCost,
		RetailPrice:    input.RetailPrice,
		WholesalePrice: input.WholesalePrice,
		ExpiresAt:      input.ExpiresAt,
	})
	if err != nil {
		if insertedKey {
			key := fmt.Sprintf("receipt:%s:%d:%d", input.ReceiptCode, input.WarehouseID, input.ProductID)
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockBatch{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:receipt",
			Entity:   "stock_batch",
			EntityID: fmt.Sprintf("%d", batch.ID),
			Meta: map[string]any{
				"product_id":   batch.ProductID,
				"warehouse_id": batch.WarehouseID,
				"baseline_qty": batch.BaselineQty,
				"receipt_code": input.ReceiptCode,
			},
		})
	}
	return batch, nil
}

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, batchID int64) (StockBatch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// GetBaseline returns the recorded baseline quantity.
func (s *Service) GetBaseline(ctx context.Context, batchID int64) (float64, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	return batch.BaselineQty, nil
}

// RecordManualCorrection rewrites the baseline. Requires a supervisory role
// and writes an audit entry carrying before and after values.
func (s *Service) RecordManualCorrection(ctx context.Context, input ManualCorrectionInput, actor shared.Actor) (StockBatch, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return StockBatch{}, err
	}
	if input.NewQty < 0 {
		return StockBatch{}, errors.New("ledger: baseline quantity must be non-negative")
	}
	if input.Reason == "" {
		return StockBatch{}, errors.New("ledger: correction reason required")
	}
	batch, err := s.repo.GetBatch(ctx, input.BatchID)
	if err != nil {
		return StockBatch{}, err
	}
	if err := s.repo.UpdateBaseline(ctx, input.BatchID, input.NewQty); err != nil {
		return StockBatch{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "ledger:manual_correction",
			Entity:   "stock_batch",
			EntityID: fmt.Sprintf("%d", input.BatchID),
			Meta: map[string]any{
				"previous_qty": batch.BaselineQty,
				"new_qty":      input.NewQty,
				"reason":       input.Reason,
			},
		})
	}
	batch.BaselineQty = input.NewQty
	return batch, nil
}
