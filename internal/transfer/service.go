package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

// ErrInvalidQuantity indicates a non-positive line quantity.
var ErrInvalidQuantity = errors.New("transfer: quantity must be positive")

// ErrQuantityRaised indicates an approve or complete tried to raise a
// quantity above its upstream cap.
var ErrQuantityRaised = errors.New("transfer: quantity may only be lowered")

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	UpdateTransferStatus(ctx context.Context, id int64, status Status) error
	UpdateLineApprovedQty(ctx context.Context, lineID int64, qty float64) error
	UpdateLineFulfilledQty(ctx context.Context, lineID int64, qty float64) error
	SetReceipt(ctx context.Context, id int64, receivedBy int64, receivedAt time.Time) error
	BatchInputsForUpdate(ctx context.Context, batchID int64) (availability.BatchInputs, error)
	BatchProduct(ctx context.Context, batchID int64) (int64, error)
	InsertAllocation(ctx context.Context, batchID, transferID int64, qty float64) error
	SetAllocationQty(ctx context.Context, transferID, batchID int64, qty float64) error
	DeleteAllocations(ctx context.Context, transferID int64) error
	AddLocationStock(ctx context.Context, locationID, productID int64, qty float64) error
	GetRequestForUpdate(ctx context.Context, id int64) (TransferRequest, error)
	UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus, transferID int64) error
	SetRequestFulfilled(ctx context.Context, id int64, fulfilledBy int64, fulfilledAt time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateTransfer(ctx context.Context, tr Transfer) (Transfer, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	CreateRequest(ctx context.Context, req TransferRequest) (TransferRequest, error)
	GetRequest(ctx context.Context, id int64) (TransferRequest, error)
}

// MetricsPort receives workflow counters; nil disables instrumentation.
type MetricsPort interface {
	TransferDispatched()
	InsufficientStock()
}

// Service drives both transfer state machines: the manager-approval push
// workflow and the storefront pull-request workflow.
type Service struct {
	repo    RepositoryPort
	audit   shared.AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

// CreateInput describes a draft transfer.
type CreateInput struct {
	Reference string
	SourceID  int64
	DestID    int64
	RequestID int64
	CreatedBy int64
	Lines     []LineInput
}

// LineInput describes one requested batch movement.
type LineInput struct {
	BatchID   int64
	ProductID int64
	Qty       float64
}

// Create persists a DRAFT transfer with its line items. No stock moves yet.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.SourceID == 0 || input.DestID == 0 {
		return Transfer{}, errors.New("transfer: source and destination required")
	}
	if input.SourceID == input.DestID {
		return Transfer{}, errors.New("transfer: source and destination must differ")
	}
	if len(input.Lines) == 0 {
		return Transfer{}, errors.New("transfer: minimal 1 line")
	}
	tr := Transfer{
		Reference: input.Reference,
		SourceID:  input.SourceID,
		DestID:    input.DestID,
		Status:    StatusDraft,
		RequestID: input.RequestID,
		CreatedBy: input.CreatedBy,
	}
	if tr.Reference == "" {
		tr.Reference = fmt.Sprintf("TRF-%s", uuid.NewString()[:8])
	}
	for _, line := range input.Lines {
		if line.BatchID == 0 || line.ProductID == 0 {
			return Transfer{}, errors.New("transfer: batch and product required per line")
		}
		if line.Qty <= 0 {
			return Transfer{}, ErrInvalidQuantity
		}
		tr.Lines = append(tr.Lines, LineItem{
			BatchID:      line.BatchID,
			ProductID:    line.ProductID,
			RequestedQty: line.Qty,
		})
	}
	created, err := s.repo.CreateTransfer(ctx, tr)
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "transfer:create", created.ID, map[string]any{
		"reference": created.Reference,
		"source_id": created.SourceID,
		"dest_id":   created.DestID,
	})
	return created, nil
}

// Get returns one transfer with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// Submit moves DRAFT (or REJECTED, for resubmission) to REQUESTED. Any
// business member may submit.
func (s *Service) Submit(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !tr.Status.CanSubmit() {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusDraft)}
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusRequested); err != nil {
			return err
		}
		tr.Status = StatusRequested
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor.ID, "transfer:submit", id, nil)
	return tr, nil
}

// ApproveInput optionally lowers per-line quantities.
type ApproveInput struct {
	// ApprovedQty maps line ID to the approved quantity. Missing lines keep
	// their requested quantity. Raising above requested is rejected.
	ApprovedQty map[int64]float64
}

// Approve moves REQUESTED to APPROVED. Supervisory only. Per-line approved
// quantity may be adjusted down from requested, never up.
func (s *Service) Approve(ctx context.Context, id int64, input ApproveInput, actor shared.Actor) (Transfer, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return Transfer{}, err
	}
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusRequested {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusRequested)}
		}
		for i := range tr.Lines {
			line := &tr.Lines[i]
			approved := line.RequestedQty
			if qty, ok := input.ApprovedQty[line.ID]; ok {
				if qty > line.RequestedQty {
					return fmt.Errorf("%w: line %d requested %.4f, approved %.4f", ErrQuantityRaised, line.ID, line.RequestedQty, qty)
				}
				if qty <= 0 {
					return ErrInvalidQuantity
				}
				approved = qty
			}
			// sanity-check the source can still cover the approved quantity
			inputs, err := tx.BatchInputsForUpdate(ctx, line.BatchID)
			if err != nil {
				return err
			}
			avail := availability.Compute(inputs)
			if approved > avail.Available {
				return &shared.InsufficientStockError{
					BatchID:   line.BatchID,
					Available: avail.Available,
					Requested: approved,
				}
			}
			if err := tx.UpdateLineApprovedQty(ctx, line.ID, approved); err != nil {
				return err
			}
			line.ApprovedQty = approved
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		tr.Status = StatusApproved
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor.ID, "transfer:approve", id, nil)
	return tr, nil
}

// Dispatch moves APPROVED to IN_TRANSIT. Supervisory only. Every line's
// source availability is checked under the batch row lock and committed as an
// allocation; any shortfall fails the whole dispatch with no partial effect.
func (s *Service) Dispatch(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return Transfer{}, err
	}
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusApproved {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusApproved)}
		}
		// lock batches in id order so concurrent dispatches cannot deadlock
		lines := append([]LineItem(nil), tr.Lines...)
		sort.Slice(lines, func(i, j int) bool { return lines[i].BatchID < lines[j].BatchID })
		for _, line := range lines {
			inputs, err := tx.BatchInputsForUpdate(ctx, line.BatchID)
			if err != nil {
				return err
			}
			avail := availability.Compute(inputs)
			if line.ApprovedQty > avail.Available {
				// returning the error rolls back allocations already
				// written for earlier lines
				return &shared.InsufficientStockError{
					BatchID:   line.BatchID,
					Available: avail.Available,
					Requested: line.ApprovedQty,
				}
			}
			if err := tx.InsertAllocation(ctx, line.BatchID, tr.ID, line.ApprovedQty); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusInTransit); err != nil {
			return err
		}
		tr.Status = StatusInTransit
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStock()
		}
		return Transfer{}, err
	}
	if s.metrics != nil {
		s.metrics.TransferDispatched()
	}
	s.recordAudit(ctx, actor.ID, "transfer:dispatch", id, nil)
	return tr, nil
}

// CompleteInput optionally lowers per-line fulfilled quantities for partial
// fulfillment.
type CompleteInput struct {
	// FulfilledQty maps line ID to the fulfilled quantity. Missing lines
	// fulfil their full approved quantity.
	FulfilledQty map[int64]float64
}

// Complete moves IN_TRANSIT to COMPLETED and increments destination on-hand
// by the fulfilled quantities. Supervisory only.
func (s *Service) Complete(ctx context.Context, id int64, input CompleteInput, actor shared.Actor) (Transfer, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return Transfer{}, err
	}
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusInTransit {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusInTransit)}
		}
		for i := range tr.Lines {
			line := &tr.Lines[i]
			fulfilled := line.ApprovedQty
			if qty, ok := input.FulfilledQty[line.ID]; ok {
				if qty > line.ApprovedQty {
					return fmt.Errorf("%w: line %d approved %.4f, fulfilled %.4f", ErrQuantityRaised, line.ID, line.ApprovedQty, qty)
				}
				if qty < 0 {
					return ErrInvalidQuantity
				}
				fulfilled = qty
			}
			if err := tx.UpdateLineFulfilledQty(ctx, line.ID, fulfilled); err != nil {
				return err
			}
			if fulfilled != line.ApprovedQty {
				// the shortfall returns to source availability; whether it
				// was lost in transit is a reconciliation finding
				if err := tx.SetAllocationQty(ctx, tr.ID, line.BatchID, fulfilled); err != nil {
					return err
				}
			}
			line.FulfilledQty = fulfilled
			if fulfilled > 0 {
				if err := tx.AddLocationStock(ctx, tr.DestID, line.ProductID, fulfilled); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusCompleted); err != nil {
			return err
		}
		tr.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor.ID, "transfer:complete", id, nil)
	return tr, nil
}

// Reject moves REQUESTED to REJECTED. Supervisory only. The transfer may be
// resubmitted later.
func (s *Service) Reject(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return Transfer{}, err
	}
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusRequested {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusRequested)}
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusRejected); err != nil {
			return err
		}
		tr.Status = StatusRejected
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor.ID, "transfer:reject", id, nil)
	return tr, nil
}

// Cancel moves any non-terminal state to CANCELLED. Cancelling a dispatched
// transfer releases its allocations back to source availability.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	var tr Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !tr.Status.CanCancel() {
			return &shared.StateError{Current: string(tr.Status), Expected: "non-terminal"}
		}
		if tr.Status == StatusInTransit {
			// dispatched stock never arrived anywhere: release its
			// allocations so source availability recovers
			if err := tx.DeleteAllocations(ctx, id); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransferStatus(ctx, id, StatusCancelled); err != nil {
			return err
		}
		tr.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor.ID, "transfer:cancel", id, nil)
	return tr, nil
}

// ConfirmReceipt lets the original requester acknowledge arrival once the
// transfer is IN_TRANSIT or COMPLETED. A second call is a no-op success, not
// an error. If the transfer satisfies a pull request, that request is marked
// FULFILLED.
func (s *Service) ConfirmReceipt(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	var tr Transfer
	var already bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tr, err = tx.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusInTransit && tr.Status != StatusCompleted {
			return &shared.StateError{Current: string(tr.Status), Expected: string(StatusInTransit)}
		}
		if tr.ReceivedBy != 0 {
			already = true
			return nil
		}
		receivedAt := s.now().UTC()
		if err := tx.SetReceipt(ctx, id, actor.ID, receivedAt); err != nil {
			return err
		}
		tr.ReceivedBy = actor.ID
		tr.ReceivedAt = receivedAt
		if tr.RequestID != 0 {
			req, err := tx.GetRequestForUpdate(ctx, tr.RequestID)
			if err != nil {
				return err
			}
			if req.Status != RequestStatusFulfilled && req.Status != RequestStatusCancelled {
				if err := tx.SetRequestFulfilled(ctx, req.ID, actor.ID, receivedAt); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	if already {
		return tr, nil
	}
	s.recordAudit(ctx, actor.ID, "transfer:confirm_receipt", id, nil)
	return tr, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
