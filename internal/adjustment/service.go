package adjustment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

// ErrInvalidDelta indicates a zero or non-finite quantity delta.
var ErrInvalidDelta = errors.New("adjustment: delta must be a non-zero finite quantity")

// TxRepository exposes transactional operations used by Service. Approvals run
// the availability check and the status write inside one transaction with the
// batch row locked.
type TxRepository interface {
	GetAdjustmentForUpdate(ctx context.Context, id int64) (Adjustment, error)
	BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error)
	CompleteAdjustment(ctx context.Context, id int64, approver int64) error
	RejectAdjustment(ctx context.Context, id int64, approver int64) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
	GetAdjustment(ctx context.Context, id int64) (Adjustment, error)
	ListForBatch(ctx context.Context, batchID int64) ([]Adjustment, error)
}

// Service records signed quantity deltas against batches through the approval
// workflow. It never writes the batch baseline.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateInput describes a requested adjustment.
type CreateInput struct {
	BatchID     int64
	Type        Type
	Delta       float64
	Reason      string
	RequestedBy int64
}

// Create records a PENDING adjustment. Any business member may request one.
func (s *Service) Create(ctx context.Context, input CreateInput) (Adjustment, error) {
	if input.BatchID == 0 {
		return Adjustment{}, errors.New("adjustment: batch required")
	}
	if !input.Type.IsValid() {
		return Adjustment{}, fmt.Errorf("adjustment: unknown type %q", input.Type)
	}
	if input.Delta == 0 || math.IsNaN(input.Delta) || math.IsInf(input.Delta, 0) {
		return Adjustment{}, ErrInvalidDelta
	}
	if input.Reason == "" {
		return Adjustment{}, errors.New("adjustment: reason required")
	}
	adj, err := s.repo.InsertAdjustment(ctx, Adjustment{
		BatchID:     input.BatchID,
		Type:        input.Type,
		Delta:       input.Delta,
		Status:      StatusPending,
		Reason:      input.Reason,
		RequestedBy: input.RequestedBy,
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, input.RequestedBy, "adjustment:create", adj.ID, map[string]any{
		"batch_id": adj.BatchID,
		"type":     string(adj.Type),
		"delta":    adj.Delta,
	})
	return adj, nil
}

// Get returns one adjustment.
func (s *Service) Get(ctx context.Context, id int64) (Adjustment, error) {
	return s.repo.GetAdjustment(ctx, id)
}

// ListForBatch returns the batch's adjustment history.
func (s *Service) ListForBatch(ctx context.Context, batchID int64) ([]Adjustment, error) {
	return s.repo.ListForBatch(ctx, batchID)
}

// Approve transitions a PENDING adjustment to COMPLETED. The approver must
// hold a supervisory role, and applying the delta must not drive the batch's
// availability below zero: stock already reserved or allocated downstream
// cannot be retroactively oversold. Check and write share one transaction
// with the batch row locked.
func (s *Service) Approve(ctx context.Context, id int64, approver shared.Actor) (Adjustment, availability.Result, error) {
	if err := approver.RequireSupervisory(); err != nil {
		return Adjustment{}, availability.Result{}, err
	}
	var adj Adjustment
	var result availability.Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		adj, err = tx.GetAdjustmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if adj.Status != StatusPending {
			return &shared.StateError{Current: string(adj.Status), Expected: string(StatusPending)}
		}
		inputs, err := tx.BatchInputsForUpdate(ctx, adj.BatchID)
		if err != nil {
			return err
		}
		current := availability.Compute(inputs)
		inputs.AdjustmentDeltas = append(inputs.AdjustmentDeltas, adj.Delta)
		next := availability.Compute(inputs)
		if next.Clamped {
			return &shared.InsufficientStockError{
				BatchID:   adj.BatchID,
				Available: current.Available,
				Requested: math.Abs(adj.Delta),
			}
		}
		if err := tx.CompleteAdjustment(ctx, id, approver.ID); err != nil {
			return err
		}
		adj.Status = StatusCompleted
		adj.ApprovedBy = approver.ID
		result = next
		return nil
	})
	if err != nil {
		return Adjustment{}, availability.Result{}, err
	}
	s.recordAudit(ctx, approver.ID, "adjustment:approve", adj.ID, map[string]any{
		"batch_id":  adj.BatchID,
		"delta":     adj.Delta,
		"available": result.Available,
	})
	return adj, result, nil
}

// Reject sets the adjustment REJECTED. Terminal; the batch is never touched.
func (s *Service) Reject(ctx context.Context, id int64, approver shared.Actor) (Adjustment, error) {
	if err := approver.RequireSupervisory(); err != nil {
		return Adjustment{}, err
	}
	var adj Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		adj, err = tx.GetAdjustmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if adj.Status != StatusPending {
			return &shared.StateError{Current: string(adj.Status), Expected: string(StatusPending)}
		}
		if err := tx.RejectAdjustment(ctx, id, approver.ID); err != nil {
			return err
		}
		adj.Status = StatusRejected
		adj.ApprovedBy = approver.ID
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}
	s.recordAudit(ctx, approver.ID, "adjustment:reject", adj.ID, map[string]any{
		"batch_id": adj.BatchID,
	})
	return adj, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "adjustment",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
