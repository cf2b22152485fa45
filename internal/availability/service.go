package availability

import (
	"context"
	"errors"
	"time"
)

// BatchMeta carries the batch attributes surfaced in breakdown lines.
type BatchMeta struct {
	BatchID     int64
	WarehouseID int64
	ExpiresAt   time.Time
}

// RepositoryPort loads derivation inputs. Implementations must read the same
// rows the mutating components write; nothing derived is ever stored back.
type RepositoryPort interface {
	// BatchInputsForProduct returns inputs for every batch of the product,
	// optionally narrowed to one warehouse (warehouseID = 0 means all).
	BatchInputsForProduct(ctx context.Context, productID, warehouseID int64) ([]BatchInputs, []BatchMeta, error)
	// BatchInputsByID returns inputs for a single batch.
	BatchInputsByID(ctx context.Context, batchID int64) (BatchInputs, BatchMeta, error)
}

// Service answers availability queries for collaborators.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ForBatch computes availability for one batch.
func (s *Service) ForBatch(ctx context.Context, batchID int64) (Result, error) {
	in, _, err := s.repo.BatchInputsByID(ctx, batchID)
	if err != nil {
		return Result{}, err
	}
	return Compute(in), nil
}

// ForProduct aggregates the product's batches into the breakdown contract.
func (s *Service) ForProduct(ctx context.Context, productID, warehouseID int64) (Breakdown, error) {
	if productID == 0 {
		return Breakdown{}, errors.New("availability: product required")
	}
	inputs, metas, err := s.repo.BatchInputsForProduct(ctx, productID, warehouseID)
	if err != nil {
		return Breakdown{}, err
	}
	byID := make(map[int64]BatchMeta, len(metas))
	for _, m := range metas {
		byID[m.BatchID] = m
	}
	return Aggregate(inputs, func(batchID int64) (int64, time.Time) {
		m := byID[batchID]
		return m.WarehouseID, m.ExpiresAt
	}), nil
}
