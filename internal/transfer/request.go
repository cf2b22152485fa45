package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/stocklane/stocklane/internal/availability"
	"github.com/stocklane/stocklane/internal/shared"
)

// CreateRequestInput describes a storefront restock ask.
type CreateRequestInput struct {
	StorefrontID int64
	Priority     Priority
	RequestedBy  int64
	Lines        []RequestLineInput
}

// RequestLineInput is one requested product.
type RequestLineInput struct {
	ProductID int64
	Qty       float64
}

// CreateRequest persists a NEW pull request.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (TransferRequest, error) {
	if input.StorefrontID == 0 {
		return TransferRequest{}, errors.New("transfer: storefront required")
	}
	if len(input.Lines) == 0 {
		return TransferRequest{}, errors.New("transfer: minimal 1 line")
	}
	req := TransferRequest{
		StorefrontID: input.StorefrontID,
		Status:       RequestStatusNew,
		Priority:     input.Priority,
		RequestedBy:  input.RequestedBy,
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			return TransferRequest{}, errors.New("transfer: product required per line")
		}
		if line.Qty <= 0 {
			return TransferRequest{}, ErrInvalidQuantity
		}
		req.Lines = append(req.Lines, RequestLine{ProductID: line.ProductID, Qty: line.Qty})
	}
	created, err := s.repo.CreateRequest(ctx, req)
	if err != nil {
		return TransferRequest{}, err
	}
	s.recordRequestAudit(ctx, input.RequestedBy, "transfer_request:create", created.ID, map[string]any{
		"storefront_id": created.StorefrontID,
		"priority":      string(created.Priority),
	})
	return created, nil
}

// GetRequest returns one pull request with its lines.
func (s *Service) GetRequest(ctx context.Context, id int64) (TransferRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// AssignRequest links a Transfer that will satisfy the request and moves it
// NEW to ASSIGNED.
func (s *Service) AssignRequest(ctx context.Context, id, transferID int64, actor shared.Actor) (TransferRequest, error) {
	var req TransferRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestStatusNew {
			return &shared.StateError{Current: string(req.Status), Expected: string(RequestStatusNew)}
		}
		if _, err := tx.GetTransferForUpdate(ctx, transferID); err != nil {
			return err
		}
		if err := tx.UpdateRequestStatus(ctx, id, RequestStatusAssigned, transferID); err != nil {
			return err
		}
		req.Status = RequestStatusAssigned
		req.TransferID = transferID
		return nil
	})
	if err != nil {
		return TransferRequest{}, err
	}
	s.recordRequestAudit(ctx, actor.ID, "transfer_request:assign", id, map[string]any{"transfer_id": transferID})
	return req, nil
}

// CancelRequest moves NEW or ASSIGNED to CANCELLED.
func (s *Service) CancelRequest(ctx context.Context, id int64, actor shared.Actor) (TransferRequest, error) {
	var req TransferRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestStatusNew && req.Status != RequestStatusAssigned {
			return &shared.StateError{Current: string(req.Status), Expected: string(RequestStatusNew)}
		}
		if err := tx.UpdateRequestStatus(ctx, id, RequestStatusCancelled, req.TransferID); err != nil {
			return err
		}
		req.Status = RequestStatusCancelled
		return nil
	})
	if err != nil {
		return TransferRequest{}, err
	}
	s.recordRequestAudit(ctx, actor.ID, "transfer_request:cancel", id, nil)
	return req, nil
}

// ManualFulfillInput maps request lines to the source batches staff pulled
// the stock from.
type ManualFulfillInput struct {
	// BatchQty maps batch ID to moved quantity. The movement is checked
	// against each batch's availability and committed as an allocation so
	// reconciliation can account for it.
	BatchQty map[int64]float64
}

// ManualFulfill satisfies a request without a Transfer object: storefront
// stock is incremented immediately and the request is marked FULFILLED in one
// step. An adjustment-equivalent audit record is written for every batch the
// stock came from.
func (s *Service) ManualFulfill(ctx context.Context, id int64, input ManualFulfillInput, actor shared.Actor) (TransferRequest, error) {
	if err := actor.RequireSupervisory(); err != nil {
		return TransferRequest{}, err
	}
	if len(input.BatchQty) == 0 {
		return TransferRequest{}, errors.New("transfer: batch quantities required")
	}
	var req TransferRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestStatusNew && req.Status != RequestStatusAssigned {
			return &shared.StateError{Current: string(req.Status), Expected: string(RequestStatusNew)}
		}
		// lock batches in id order so concurrent movements cannot deadlock
		batchIDs := make([]int64, 0, len(input.BatchQty))
		for batchID := range input.BatchQty {
			batchIDs = append(batchIDs, batchID)
		}
		sort.Slice(batchIDs, func(i, j int) bool { return batchIDs[i] < batchIDs[j] })
		for _, batchID := range batchIDs {
			qty := input.BatchQty[batchID]
			if qty <= 0 {
				return ErrInvalidQuantity
			}
			inputs, err := tx.BatchInputsForUpdate(ctx, batchID)
			if err != nil {
				return err
			}
			avail := availability.Compute(inputs)
			if qty > avail.Available {
				return &shared.InsufficientStockError{
					BatchID:   batchID,
					Available: avail.Available,
					Requested: qty,
				}
			}
			// allocation with no transfer id: the manual-movement record
			if err := tx.InsertAllocation(ctx, batchID, 0, qty); err != nil {
				return err
			}
			productID, err := tx.BatchProduct(ctx, batchID)
			if err != nil {
				return err
			}
			if err := tx.AddLocationStock(ctx, req.StorefrontID, productID, qty); err != nil {
				return err
			}
		}
		fulfilledAt := s.now().UTC()
		if err := tx.SetRequestFulfilled(ctx, id, actor.ID, fulfilledAt); err != nil {
			return err
		}
		req.Status = RequestStatusFulfilled
		req.FulfilledBy = actor.ID
		req.FulfilledAt = fulfilledAt
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStock()
		}
		return TransferRequest{}, err
	}
	for batchID, qty := range input.BatchQty {
		s.recordRequestAudit(ctx, actor.ID, "transfer_request:manual_fulfill", id, map[string]any{
			"batch_id":      batchID,
			"qty":           qty,
			"storefront_id": req.StorefrontID,
		})
	}
	return req, nil
}

func (s *Service) recordRequestAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer_request",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
